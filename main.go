package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmxdawn/paywallet/client"
	"github.com/lmxdawn/paywallet/config"
	"github.com/lmxdawn/paywallet/db"
	"github.com/lmxdawn/paywallet/engine"
	"github.com/lmxdawn/paywallet/messaging"
	"github.com/lmxdawn/paywallet/server"
	"github.com/lmxdawn/paywallet/wallet"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"
)

// shutdownTimeout 关闭 http 服务的最长等待时间
const shutdownTimeout = 10 * time.Second

var confFlag = cli.StringFlag{
	Name:  "conf, c",
	Value: config.DefaultPath,
	Usage: "配置文件",
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	app := cli.NewApp()
	app.Name = "paywallet"
	app.Usage = "Toshi 付款钱包服务"
	app.Flags = []cli.Flag{
		confFlag,
		cli.BoolFlag{Name: "debug", Usage: "输出 debug 日志"},
	}
	app.Before = func(c *cli.Context) error {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if c.GlobalBool("debug") {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "启动付款服务和 http 接口",
			Action: serve,
		},
		{
			Name:   "mnemonic",
			Usage:  "生成新的助记词",
			Action: newMnemonic,
		},
		{
			Name:   "addresses",
			Usage:  "打印配置中助记词派生的身份地址和收付款地址",
			Action: printAddresses,
		},
	}
	app.Action = serve

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Msgf("paywallet err is %s", err.Error())
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.GlobalString("conf")
	conf, err := config.NewConfig(path)
	if err != nil {
		return conf, errors.Wrapf(err, "load config %s", path)
	}
	return conf, nil
}

func newMnemonic(c *cli.Context) error {
	mnemonic, err := wallet.NewMnemonic()
	if err != nil {
		return err
	}
	fmt.Println(mnemonic)
	return nil
}

func printAddresses(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	if conf.Wallet.Mnemonic == "" {
		return errors.New("wallet.mnemonic is empty")
	}
	w, err := wallet.FromMnemonic(conf.Wallet.Mnemonic, nil, conf.Wallet.PaymentKeys)
	if err != nil {
		return err
	}
	defer w.Clear()
	identity, err := w.IdentityAddress()
	if err != nil {
		return err
	}
	fmt.Printf("identity  %s\n", identity)
	for _, a := range w.AddressesWithLabels() {
		fmt.Printf("%-9s %s\n", a.Label, a.Address)
	}
	return nil
}

// ledger 链服务 同时提供余额查询
type ledger interface {
	engine.Ledger
	server.Balances
}

// openStorage 按配置打开存储 使用 redis 时同时返回 redis 连接
func openStorage(ctx context.Context, conf config.Config) (db.Database, *redis.Client, error) {
	var rdb *redis.Client
	if conf.Redis.Addr != "" {
		var err error
		rdb, err = db.NewRedisClient(ctx, conf.Redis)
		if err != nil {
			if strings.EqualFold(conf.Storage.Backend, "redis") {
				return nil, nil, err
			}
			log.Warn().Msgf("openStorage redis unavailable, continue without it: %s", err.Error())
			rdb = nil
		}
	}
	if strings.EqualFold(conf.Storage.Backend, "redis") {
		return db.NewRedis(rdb, db.DefaultHash), rdb, nil
	}
	level, err := db.NewLevelDB(conf.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	return level, rdb, nil
}

func openLedger(ctx context.Context, conf config.Config, w *wallet.HDWallet) (ledger, *client.EthLedger, error) {
	if strings.EqualFold(conf.Ledger.Mode, "rest") {
		return client.NewRestLedger(conf.Ledger.Rest, client.NewHTTPClient(0, 2), w), nil, nil
	}
	eth, err := client.NewEthLedger(ctx, conf.Ledger.Rpc, conf.Ledger.ChainID, conf.Ledger.Confirmations)
	if err != nil {
		return nil, nil, err
	}
	return eth, eth, nil
}

func serve(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	if conf.App.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, rdb, err := openStorage(ctx, conf)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Msgf("close storage err is %s", err.Error())
		}
	}()
	if rdb != nil && !strings.EqualFold(conf.Storage.Backend, "redis") {
		defer rdb.Close()
	}
	store := db.NewStore(database)

	var w *wallet.HDWallet
	if conf.Wallet.Mnemonic != "" {
		w, err = wallet.FromMnemonic(conf.Wallet.Mnemonic, store, conf.Wallet.PaymentKeys)
	} else {
		w, err = wallet.NewWallet(store, conf.Wallet.PaymentKeys)
		if err == nil {
			log.Warn().Msgf("wallet.mnemonic is empty, generated a new wallet, keep the mnemonic: %s", w.Mnemonic())
		}
	}
	if err != nil {
		return errors.Wrap(err, "open wallet")
	}
	defer w.Clear()

	chain, eth, err := openLedger(ctx, conf, w)
	if err != nil {
		return err
	}

	http := client.NewHTTPClient(0, 2)
	prices := client.NewPriceClient(conf.Pricing.Url, http, conf.Pricing.CacheTTL)
	identity := client.NewIdentityClient(conf.Identity.Url, http, rdb, conf.Identity.CacheTTL)

	monitor := client.NewNetworkMonitor(client.LedgerProbe(chain), conf.Network.ProbeInterval)
	monitor.Start()
	defer monitor.Stop()

	builderConf := engine.BuilderConfig{
		NativeAsset: conf.Pricing.NativeAsset,
		Currency:    conf.Pricing.Currency,
	}
	hub := server.NewHub()
	builder := engine.NewTaskBuilder(chain, prices, identity, store, builderConf)
	signer := engine.NewSigner(chain, w)

	incoming := engine.NewIncomingManager(engine.IncomingDeps{
		Prices:   prices,
		Identity: identity,
		Messages: store,
		Pending:  store,
		Notifier: hub,
	}, builderConf)
	incoming.Subscribe()
	defer incoming.Unsubscribe()

	var bus messaging.Bus
	if rdb != nil {
		bus = messaging.NewRedisBus(rdb)
	} else {
		log.Warn().Msgf("redis is not configured, messages are only delivered inside this process")
		bus = messaging.NewLocalBus()
	}
	transport := messaging.NewTransport(bus, store, w, store, incoming)
	if err := transport.Start(ctx); err != nil {
		return errors.Wrap(err, "start transport")
	}
	defer transport.Stop()

	outgoing := engine.NewOutgoingManager(engine.OutgoingDeps{
		Signer:    signer,
		Messages:  store,
		Pending:   store,
		Transport: transport,
		Trust:     store,
		Network:   monitor,
		Notifier:  hub,
	}, engine.DefaultTaskTimeout)
	outgoing.Start()
	defer outgoing.Stop()

	updater := engine.NewUpdateManager(chain, store, store, conf.Update.Interval)
	updater.Start()
	defer updater.Stop()

	if eth != nil {
		addresses := func() []string {
			labels := w.AddressesWithLabels()
			res := make([]string, 0, len(labels))
			for _, a := range labels {
				res = append(res, a.Address)
			}
			return res
		}
		listener := client.NewBlockListener(eth.Client(), eth.ChainID(), addresses, conf.Ledger.Tokens, incoming, conf.Network.PollInterval)
		listener.Start()
		defer listener.Stop()
	}

	srv := server.NewServer(server.Deps{
		Wallet:   w,
		Builder:  builder,
		Sender:   outgoing,
		Updater:  updater,
		Store:    store,
		Balances: chain,
		Identity: identity,
		Hub:      hub,
	}, conf.App.Port, conf.App.Token, conf.App.Debug)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info().Msgf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	return err
}
