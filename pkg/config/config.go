// Package config loads the validator's environment-driven configuration:
// the node/token-service endpoints, the ABI files the contract set is
// parsed from, and each bridged EVM chain's RPC endpoints, contract
// addresses, and optional signer key.
package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/raicoin/validator-node/pkg/chainid"
)

// inputSentinel is the literal value of a *_SIGNER_PRIVATE_KEY variable
// that triggers an interactive getpass prompt instead of reading the key
// from the environment directly.
const inputSentinel = "input"

// ChainConfig is one bridged EVM chain's endpoint pool, contracts, and
// optional local signer.
type ChainConfig struct {
	Endpoints         []string
	SignerPrivateKey  string
	ValidatorContract string
	CoreContract      string
}

// Enabled reports whether this chain has at least one configured
// endpoint; chains left unset are simply not tracked.
func (c ChainConfig) Enabled() bool { return len(c.Endpoints) > 0 }

// chainEnvPrefix maps a bridged chain to the upper-snake-case prefix its
// environment variables use, e.g. BINANCE_SMART_CHAIN_TEST_ENDPOINTS.
var chainEnvPrefix = map[chainid.ChainId]string{
	chainid.Ethereum:              "ETHEREUM",
	chainid.EthereumTest:          "ETHEREUM_TEST",
	chainid.BinanceSmartChain:     "BINANCE_SMART_CHAIN",
	chainid.BinanceSmartChainTest: "BINANCE_SMART_CHAIN_TEST",
}

// Config holds every environment-derived setting the validator needs.
type Config struct {
	Debug         bool
	Test          bool
	UseCloudflare bool
	UseNginx      bool

	NodeIP          string
	NodeCallbackKey string

	RaiTokenURL string

	CoreABIFile      string
	ValidatorABIFile string
	ERC20ABIFile     string
	ERC721ABIFile    string

	ProposalFile     string
	ExecuteProposals bool

	Chains map[chainid.ChainId]ChainConfig
}

// Load reads the process environment into a Config. It never fails on a
// missing optional value; required values are checked by Validate.
func Load() (*Config, error) {
	cfg := &Config{
		Debug:         getEnvBool("DEBUG", false),
		Test:          getEnvBool("TEST", false),
		UseCloudflare: getEnvBool("USE_CLOUDFLARE", false),
		UseNginx:      getEnvBool("USE_NGINX", false),

		NodeIP:          getEnv("NODE_IP", ""),
		NodeCallbackKey: getEnv("NODE_CALLBACK_KEY", ""),

		RaiTokenURL: getEnv("RAI_TOKEN_URL", ""),

		CoreABIFile:      getEnv("EVM_CHAIN_CORE_ABI_FILE", ""),
		ValidatorABIFile: getEnv("EVM_CHAIN_VALIDATOR_ABI_FILE", ""),
		ERC20ABIFile:     getEnv("ERC20_ABI_FILE", ""),
		ERC721ABIFile:    getEnv("ERC721_ABI_FILE", ""),

		ProposalFile:     getEnv("PROPOSAL_FILE", "proposals.json"),
		ExecuteProposals: getEnvBool("EXECUTE_PROPOSALS", false),

		Chains: make(map[chainid.ChainId]ChainConfig),
	}

	for id, prefix := range chainEnvPrefix {
		endpoints := splitCSV(getEnv(prefix+"_ENDPOINTS", ""))
		if len(endpoints) == 0 {
			continue
		}
		key, err := resolveSignerKey(prefix + "_SIGNER_PRIVATE_KEY")
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", id, err)
		}
		cfg.Chains[id] = ChainConfig{
			Endpoints:         endpoints,
			SignerPrivateKey:  key,
			ValidatorContract: getEnv(prefix+"_VALIDATOR_CONTRACT", ""),
			CoreContract:      getEnv(prefix+"_CORE_CONTRACT", ""),
		}
	}

	return cfg, nil
}

// Validate checks the settings that have no sensible default: the ABI
// file paths and at least one bridged chain with both contract
// addresses set.
func (c *Config) Validate() error {
	var problems []string

	if c.CoreABIFile == "" {
		problems = append(problems, "EVM_CHAIN_CORE_ABI_FILE is required")
	}
	if c.ValidatorABIFile == "" {
		problems = append(problems, "EVM_CHAIN_VALIDATOR_ABI_FILE is required")
	}
	if c.ERC20ABIFile == "" {
		problems = append(problems, "ERC20_ABI_FILE is required")
	}
	if c.ERC721ABIFile == "" {
		problems = append(problems, "ERC721_ABI_FILE is required")
	}
	if len(c.Chains) == 0 {
		problems = append(problems, "no bridged chain is configured (set at least one <CHAIN>_ENDPOINTS)")
	}
	for id, cc := range c.Chains {
		if cc.ValidatorContract == "" {
			problems = append(problems, fmt.Sprintf("%s: validator contract address is required", id))
		}
		if cc.CoreContract == "" {
			problems = append(problems, fmt.Sprintf("%s: core contract address is required", id))
		}
	}
	if c.NodeIP == "" {
		problems = append(problems, "NODE_IP is required")
	}
	if c.NodeCallbackKey == "" {
		problems = append(problems, "NODE_CALLBACK_KEY is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration invalid:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// resolveSignerKey reads a signer private key from the environment,
// prompting interactively with a masked read if the value is the
// literal sentinel "input" rather than a hex key.
func resolveSignerKey(envVar string) (string, error) {
	value := os.Getenv(envVar)
	if value != inputSentinel {
		return value, nil
	}
	fmt.Fprintf(os.Stderr, "Enter value for %s: ", envVar)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s interactively: %w", envVar, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}
