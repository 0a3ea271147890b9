package subcmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/camrelay/cmdmain"
	"github.com/mengelbart/camrelay/flags"
	api "github.com/mengelbart/camrelay/http"
	"github.com/mengelbart/camrelay/internal/config"
	"github.com/mengelbart/camrelay/internal/http"
	"github.com/mengelbart/camrelay/internal/metrics"
	"github.com/mengelbart/camrelay/internal/mounts"
	"github.com/mengelbart/camrelay/rtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	cmdmain.RegisterSubCmd("serve", func() cmdmain.SubCmd { return new(Serve) })
}

type Serve struct{}

// Help implements cmdmain.SubCmd.
func (s *Serve) Help() string {
	return "Serve the mounts of a configuration file over an HTTP API"
}

// Exec implements cmdmain.SubCmd.
func (s *Serve) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	flags.RegisterInto(fs, []flags.FlagName{
		flags.ConfigFlag,
		flags.HTTPAddrFlag,
		flags.HTTPSAddrFlag,
		flags.CertFlag,
		flags.KeyFlag,
		flags.TraceRTPSendFlag,
	}...)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Serve the mounts of a configuration file

Receivers are attached with POST /api/v1/mounts/<name>/clients. Flags given
on the command line override the configuration file.

Usage:
	%s serve [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if len(fs.Args()) > 0 {
		fmt.Fprintf(os.Stderr, "error: unknown extra arguments: %v\n", fs.Args())
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(flags.Config)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch flags.FlagName(f.Name) {
		case flags.HTTPAddrFlag:
			cfg.HTTP.Address = flags.HTTPAddr
		case flags.HTTPSAddrFlag:
			cfg.HTTP.TLSAddress = flags.HTTPSAddr
		case flags.CertFlag:
			cfg.HTTP.CertFile = flags.Cert
		case flags.KeyFlag:
			cfg.HTTP.KeyFile = flags.Key
		}
	})
	if err = cfg.Validate(); err != nil {
		return err
	}

	registry := mounts.NewRegistry()
	defer registry.Close()
	encoders := map[string]config.Mount{}
	for _, m := range cfg.Mounts {
		mount, err := buildMount(m)
		if err != nil {
			return err
		}
		if err = registry.Add(mount); err != nil {
			return err
		}
		encoders[m.Name] = m
		slog.Info("mount added", "name", mount.Name, "format", mount.Format, "shared", mount.Shared)
	}

	router := httprouter.New()
	api.NewAPI(registry, clientFactory(encoders)).RegisterRoutes(router)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			metrics.NewCollector(registry),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		router.Handler("GET", cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	opts := []http.Option{
		http.H1Address(cfg.HTTP.Address),
		http.Handle(router),
		http.RequestLogger(slog.Default()),
	}
	if cfg.HTTP.CertFile != "" {
		opts = append(opts,
			http.H2Address(cfg.HTTP.TLSAddress),
			http.H3Address(cfg.HTTP.TLSAddress),
			http.CertificateFile(cfg.HTTP.CertFile),
			http.CertificateKeyFile(cfg.HTTP.KeyFile),
		)
	}
	server, err := http.NewServer(opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.ListenAndServe(ctx)
}

func buildMount(m config.Mount) (mounts.Mount, error) {
	sc, err := m.SessionConfig()
	if err != nil {
		return mounts.Mount{}, err
	}
	spec := deviceSpecFromMount(m, sc.FrameRate)
	format, width, height, err := spec.describe()
	if err != nil {
		return mounts.Mount{}, fmt.Errorf("mount %q: %w", m.Name, err)
	}
	return mounts.Mount{
		Name:      m.Name,
		Shared:    m.Shared,
		Config:    sc,
		Format:    format,
		Width:     width,
		Height:    height,
		NewDevice: spec.open,
	}, nil
}

func clientFactory(encoders map[string]config.Mount) api.ClientFactory {
	return func(m mounts.Mount, host string, port int) (mounts.Client, rtp.Description, error) {
		enc := encoders[m.Name].Encoder
		return newClient(clientSpec{
			format:      m.Format,
			width:       m.Width,
			height:      m.Height,
			rate:        m.Config.FrameRate,
			codec:       enc.Codec,
			bitrate:     enc.Bitrate,
			payloadType: enc.PayloadType,
			mtu:         enc.MTU,
			trace:       flags.TraceRTPSend,
		}, host, port)
	}
}
