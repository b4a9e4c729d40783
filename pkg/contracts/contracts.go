// Package contracts loads the ABI JSON files the validator and core
// bridge contracts (and the ERC-20/721 token standards) are described
// by, and packs/unpacks calls against them the same way the teacher's
// EVM client does: abi.JSON + contractABI.Pack/Unpack, no generated
// bindings.
package contracts

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Set bundles the four ABIs a chain tracker needs: the validator
// roster/attestation contract, the core bridge contract, and the two
// token standards it introspects.
type Set struct {
	Validator abi.ABI
	Core      abi.ABI
	ERC20     abi.ABI
	ERC721    abi.ABI
}

// Load reads and parses the four ABI files named by configuration.
func Load(validatorPath, corePath, erc20Path, erc721Path string) (*Set, error) {
	validatorABI, err := loadABI(validatorPath)
	if err != nil {
		return nil, fmt.Errorf("contracts: validator ABI: %w", err)
	}
	coreABI, err := loadABI(corePath)
	if err != nil {
		return nil, fmt.Errorf("contracts: core ABI: %w", err)
	}
	erc20ABI, err := loadABI(erc20Path)
	if err != nil {
		return nil, fmt.Errorf("contracts: erc20 ABI: %w", err)
	}
	erc721ABI, err := loadABI(erc721Path)
	if err != nil {
		return nil, fmt.Errorf("contracts: erc721 ABI: %w", err)
	}
	return &Set{Validator: validatorABI, Core: coreABI, ERC20: erc20ABI, ERC721: erc721ABI}, nil
}

func loadABI(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read %s: %w", path, err)
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return parsed, nil
}

// ValidatorSubmittedTopic and ValidatorPurgedTopic are the two log
// topics the tracker filters getValidatorLogs by (§4.3/§4.4).
func (s *Set) ValidatorSubmittedTopic() (common.Hash, error) {
	ev, ok := s.Validator.Events["ValidatorSubmitted"]
	if !ok {
		return common.Hash{}, fmt.Errorf("contracts: validator ABI missing ValidatorSubmitted event")
	}
	return ev.ID, nil
}

func (s *Set) ValidatorPurgedTopic() (common.Hash, error) {
	ev, ok := s.Validator.Events["ValidatorPurged"]
	if !ok {
		return common.Hash{}, fmt.Errorf("contracts: validator ABI missing ValidatorPurged event")
	}
	return ev.ID, nil
}

// PackSubmitValidator builds the calldata for the on-chain
// submitValidator(validator,signer,weight,epoch,rewardTo,packedSignatures)
// call.
func (s *Set) PackSubmitValidator(validator [32]byte, signer common.Address, weight interface{}, epoch uint32, rewardTo common.Address, packedSignatures []byte) ([]byte, error) {
	return s.Validator.Pack("submitValidator", validator, signer, weight, epoch, rewardTo, packedSignatures)
}

// PackUpgrade builds the calldata for the core contract's
// upgrade(newImplementation,nonce,packedSignatures) call.
func (s *Set) PackUpgrade(newImplementation common.Address, nonce interface{}, packedSignatures []byte) ([]byte, error) {
	return s.Core.Pack("upgrade", newImplementation, nonce, packedSignatures)
}

// PackUpdateTokenVolatile builds the calldata for the core contract's
// updateTokenVolatile(token,volatile,nonce,packedSignatures) call.
func (s *Set) PackUpdateTokenVolatile(token common.Address, volatile bool, nonce interface{}, packedSignatures []byte) ([]byte, error) {
	return s.Core.Pack("updateTokenVolatile", token, volatile, nonce, packedSignatures)
}
