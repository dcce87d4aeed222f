package server

import (
	"context"
	"database/sql"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	migrate "github.com/SplitFi/go-oasis/db"
	"github.com/SplitFi/go-oasis/env"
	"github.com/SplitFi/go-oasis/event"
	"github.com/SplitFi/go-oasis/service/content"
	"github.com/SplitFi/go-oasis/service/ledger"
	"github.com/SplitFi/go-oasis/service/lock"
	"github.com/SplitFi/go-oasis/service/logger"
	"github.com/SplitFi/go-oasis/service/metadata"
	"github.com/SplitFi/go-oasis/service/payment"
	"github.com/SplitFi/go-oasis/service/persist"
	"github.com/SplitFi/go-oasis/service/persist/postgres"
	"github.com/SplitFi/go-oasis/service/registry"
	"github.com/SplitFi/go-oasis/service/resolver"
)

const defaultLedgerOperator persist.Address = "oasis-ledger"

// Clients holds the services the handlers are built from
type Clients struct {
	Ledger     *ledger.Ledger
	Escrow     payment.Escrow
	Registries registry.Lookup
	Registry   persist.Address
	Content    content.Store
	Assembler  *metadata.Assembler
	Resolver   *resolver.Resolver
	// MemoryRegistry is set when tokens live in process and can be minted through the API
	MemoryRegistry *registry.MemoryRegistry
	closers        []func()
}

// Close releases every connection the clients hold
func (c *Clients) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// ClientInit builds the clients for the configured backends
func ClientInit(ctx context.Context) *Clients {
	c := &Clients{Registry: persist.NewAddress(env.GetString("REGISTRY_ADDRESS"))}

	reg, operator := newRegistry(c)
	c.Registries = registry.Lookup{}.Add(c.Registry, reg)

	repo, escrow, settler := newLedgerStore(c)
	c.Escrow = escrow

	c.Ledger = ledger.New(repo, c.Registries, escrow, operator,
		ledger.Opts.WithLocker(newLocker(c)),
		ledger.Opts.WithPublisher(newPublisher(c)),
		ledger.Opts.WithSettler(settler),
	)

	store, reads := newContentStore(c)
	c.Content = store
	c.Assembler = metadata.NewAssembler(content.NewRetryStore(store, env.GetDuration("PIN_RETRY_MAX_ELAPSED")))
	c.Resolver = resolver.New(c.Ledger, c.Registries, reads,
		resolver.Opts.WithGateway(gateways()[0]),
		resolver.Opts.WithWorkers(env.GetInt("ENRICH_WORKERS")),
		resolver.Opts.WithItemTimeout(env.GetDuration("ENRICH_ITEM_TIMEOUT")),
	)

	return c
}

// NewMemoryClients builds in-process clients, used for local development and tests
func NewMemoryClients(registryAddress persist.Address, operator persist.Address) *Clients {
	mem := registry.NewMemoryRegistry()
	book := payment.NewBook()
	store := content.NewMemoryStore()
	lookup := registry.Lookup{}.Add(registryAddress, mem)
	l := ledger.New(ledger.NewMemoryStore(), lookup, book, operator, ledger.Opts.WithPublisher(event.LogPublisher{}))

	return &Clients{
		Ledger:         l,
		Escrow:         book,
		Registries:     lookup,
		Registry:       registryAddress.Normalize(),
		Content:        store,
		Assembler:      metadata.NewAssembler(store),
		Resolver:       resolver.New(l, lookup, store),
		MemoryRegistry: mem,
	}
}

func newRegistry(c *Clients) (registry.Registry, persist.Address) {
	operator := persist.NewAddress(env.GetString("LEDGER_OPERATOR"))

	switch env.GetString("REGISTRY_BACKEND") {
	case "eth":
		client, err := ethclient.Dial(env.GetString("RPC_URL"))
		if err != nil {
			panic(err)
		}
		c.closers = append(c.closers, client.Close)

		reg, err := registry.NewEthRegistry(client, c.Registry, big.NewInt(env.GetInt64("CHAIN_ID")), env.GetString("REGISTRY_PRIVATE_KEY"))
		if err != nil {
			panic(err)
		}
		if operator.IsZero() {
			operator = reg.Signer()
		}
		logger.For(nil).Infof("using registry contract %s as %s", c.Registry, reg.Signer())
		return reg, operator
	default:
		mem := registry.NewMemoryRegistry()
		c.MemoryRegistry = mem
		if operator.IsZero() {
			operator = defaultLedgerOperator
		}
		return mem, operator
	}
}

// newLedgerStore returns the listing store and escrow for the configured backend. A nil settler
// leaves the ledger on its default two step settlement.
func newLedgerStore(c *Clients) (persist.ListingRepository, payment.Escrow, ledger.Settler) {
	switch env.GetString("LEDGER_BACKEND") {
	case "postgres":
		pq := newPqClient(c)
		if err := migrate.RunMigrations(pq, migrate.CoreMigrations); err != nil {
			panic(err)
		}
		listings, payments := postgres.NewListingRepository(pq), postgres.NewPaymentRepository(pq)
		return listings, payments, postgres.NewSaleRepository(pq, listings, payments)
	default:
		return ledger.NewMemoryStore(), payment.NewBook(), nil
	}
}

func newPqClient(c *Clients) *sql.DB {
	pq := postgres.MustCreateClient()
	c.closers = append(c.closers, func() { pq.Close() })
	return pq
}

func newLocker(c *Clients) lock.Locker {
	switch env.GetString("LOCK_BACKEND") {
	case "redis":
		client := lock.NewRedisClient(env.GetString("REDIS_URL"), env.GetString("REDIS_PASS"), 0)
		c.closers = append(c.closers, func() { client.Close() })
		return lock.NewRedisLocker(client, "oasis:listing:", env.GetDuration("LOCK_TTL"))
	default:
		return lock.NewLocalLocker()
	}
}

func newPublisher(c *Clients) event.Publisher {
	url := env.GetString("NATS_URL")
	if url == "" {
		return event.LogPublisher{}
	}

	pub, err := event.NewNATSPublisher(url, env.GetString("NATS_SUBJECT_PREFIX"), "oasis-ledger")
	if err != nil {
		logger.For(nil).WithError(err).Error("failed to connect to nats, events will only be logged")
		return event.LogPublisher{}
	}
	c.closers = append(c.closers, pub.Close)

	return event.MultiPublisher{event.LogPublisher{}, pub}
}

// newContentStore returns the store uploads are pinned to and the getter reads go through
func newContentStore(c *Clients) (content.Store, content.Getter) {
	var primary content.Store
	switch env.GetString("CONTENT_BACKEND") {
	case "ipfs":
		sh := content.NewIPFSShell(env.GetString("IPFS_API_URL"), env.GetString("IPFS_PROJECT_ID"), env.GetString("IPFS_PROJECT_SECRET"))
		primary = content.NewIPFSStore(sh, content.WithOfflineReads(env.GetBool("IPFS_OFFLINE_READS")))
	default:
		primary = content.NewMemoryStore()
	}

	reads := content.FallbackStore{
		Primary:  primary,
		Fallback: content.NewGatewayStore(&http.Client{Timeout: 30 * time.Second}, gateways()...),
	}

	cached, err := content.NewCachedStore(reads, env.GetInt("CONTENT_CACHE_SIZE"))
	if err != nil {
		panic(err)
	}

	return primary, cached
}

func gateways() []string {
	gws := env.GetStringSlice("IPFS_GATEWAYS")
	if len(gws) == 0 {
		return []string{resolver.DefaultGateway}
	}
	return gws
}
