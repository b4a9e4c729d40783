package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/raicoin/validator-node/pkg/chainid"
	"github.com/raicoin/validator-node/pkg/config"
	"github.com/raicoin/validator-node/pkg/contracts"
	"github.com/raicoin/validator-node/pkg/dispatcher"
	"github.com/raicoin/validator-node/pkg/eip712"
	"github.com/raicoin/validator-node/pkg/evmchain"
	"github.com/raicoin/validator-node/pkg/peerlink"
	"github.com/raicoin/validator-node/pkg/supervisor"
	"github.com/raicoin/validator-node/pkg/validatorset"
)

// correlationTTL is how long the dispatcher's correlation map keeps an
// unresolved signing request before garbage-collecting it.
const correlationTTL = 10 * time.Second

// callbackUpgrader promotes the node's inbound HTTP request to a
// WebSocket; the handshake itself carries no validator-specific state.
var callbackUpgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}

func main() {
	var (
		host       = flag.String("host", "0.0.0.0", "address to listen on")
		port       = flag.Int("p", 8080, "port to listen on")
		portLong   = flag.Int("port", 0, "port to listen on (overrides -p)")
		logFile    = flag.String("log-file", "", "path to write logs to, in addition to stdout")
		emitKey    = flag.Bool("key", false, "print a fresh URL-safe callback key and exit")
	)
	flag.Parse()

	if *emitKey {
		token, err := randomToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(0)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Printf("open log file %s: %v", *logFile, err)
			os.Exit(0)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	listenPort := *port
	if *portLong != 0 {
		listenPort = *portLong
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("load configuration: %v", err)
		os.Exit(0)
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("%v", err)
		os.Exit(0)
	}

	abis, err := contracts.Load(cfg.ValidatorABIFile, cfg.CoreABIFile, cfg.ERC20ABIFile, cfg.ERC721ABIFile)
	if err != nil {
		log.Printf("load contract ABIs: %v", err)
		os.Exit(0)
	}

	correlation := dispatcher.NewCorrelationMap(correlationTTL)
	node := peerlink.NewNodeLink(nil) // router installed after the supervisor exists
	var tokenSvc *peerlink.TokenServiceClient
	if cfg.RaiTokenURL != "" {
		tokenSvc, err = peerlink.NewTokenServiceClient(cfg.RaiTokenURL, []string{"chain_id"}, []string{"token_query"}, correlation)
		if err != nil {
			log.Printf("token service client: %v", err)
			os.Exit(0)
		}
	}

	signers := make(map[chainid.EvmChainId]*eip712.Signer)
	for id, cc := range cfg.Chains {
		if cc.SignerPrivateKey == "" {
			continue
		}
		evmID, ok := chainid.EvmChainIdOf(id)
		if !ok {
			continue
		}
		signer, err := eip712.NewSigner(cc.SignerPrivateKey)
		if err != nil {
			log.Printf("%s: signer key: %v", id, err)
			os.Exit(0)
		}
		signers[evmID] = signer
	}

	sup := supervisor.New(node, tokenSvc, correlation, signers, cfg.ProposalFile)

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer probeCancel()

	for id, cc := range cfg.Chains {
		evmID, _ := chainid.EvmChainIdOf(id)
		pool, err := evmchain.NewPool(cc.Endpoints, uint64(evmID))
		if err != nil {
			log.Printf("%s: %v", id, err)
			os.Exit(0)
		}
		if err := pool.EnsureProbed(probeCtx); err != nil {
			log.Printf("%s: %v", id, err)
			os.Exit(1)
		}

		chain, err := evmchain.NewChain(pool, abis, common.HexToAddress(cc.ValidatorContract), common.HexToAddress(cc.CoreContract), nil, cc.SignerPrivateKey)
		if err != nil {
			log.Printf("%s: build chain adapter: %v", id, err)
			os.Exit(0)
		}

		roster := validatorset.NewRosterState()
		cs, err := supervisor.NewChainSupervisor(id, chain, roster, common.HexToAddress(cc.ValidatorContract), common.HexToAddress(cc.CoreContract), signers[evmID], cfg.ExecuteProposals, node, sup.LocalAccount)
		if err != nil {
			log.Printf("%s: build chain supervisor: %v", id, err)
			os.Exit(0)
		}
		sup.AddChain(cs)
		log.Printf("tracking %s via %d endpoint(s)", id, len(cc.Endpoints))
	}

	node.SetRouter(sup)

	mux := http.NewServeMux()
	mux.Handle("/", sup.DispatchServer())
	mux.HandleFunc("/callback/", callbackHandler(cfg, node))

	addr := fmt.Sprintf("%s:%d", *host, listenPort)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sup.Run(ctx)

	go func() {
		log.Printf("listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
	log.Printf("stopped")
}

// callbackHandler accepts the single native-chain node connection,
// gated on source IP and the bearer token in the URL path matching the
// configured callback key.
func callbackHandler(cfg *config.Config, node *peerlink.NodeLink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.URL.Path, "/callback/")
		if token == "" || token != cfg.NodeCallbackKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !sourceIPMatches(r, cfg.NodeIP) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := callbackUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("callback upgrade: %v", err)
			return
		}
		node.Attach(conn)
		defer node.Detach(conn)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := node.HandleMessage(raw); err != nil {
				log.Printf("node message: %v", err)
			}
		}
	}
}

func sourceIPMatches(r *http.Request, configured string) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == configured
}

// randomToken returns a URL-safe, unpadded base64 token from 32 random
// bytes (43 characters), suitable for NODE_CALLBACK_KEY.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
