package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"whpvr/pkg/config"
	"whpvr/pkg/federation"
	"whpvr/pkg/health"
	"whpvr/pkg/prefs"
	"whpvr/pkg/transport"
	"whpvr/pkg/types"
	"whpvr/pkg/whpvr"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// session is a one-shot service used by the offline commands. It runs
// discovery against the configured peers and settles every reply before
// returning.
type session struct {
	cfg   *config.Config
	store *prefs.LevelDBStore
	sim   *transport.Simulator
	svc   *whpvr.Service
}

func openSession(logger *zap.Logger) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newSession(cfg, logger)
}

func newSession(cfg *config.Config, logger *zap.Logger) (*session, error) {
	store, err := openPrefs(cfg, logger)
	if err != nil {
		return nil, err
	}
	sim, err := newTransport(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	svc := whpvr.New(whpvr.Options{
		Transport: sim,
		Prefs:     store,
		Dialog:    &consoleDialog{},
		Bus:       EventBus.New(),
		Logger:    logger,
		Metrics:   federation.NewMetrics(prometheus.NewRegistry()),
		Config:    cfg,
	})
	s := &session{cfg: cfg, store: store, sim: sim, svc: svc}
	svc.Init()
	s.settle()
	return s, nil
}

func (s *session) settle() {
	s.sim.Flush(s.svc.HandleEvent)
}

func (s *session) Close() {
	s.svc.Release()
	s.sim.Close()
	s.store.Close()
}

func statusCmd() *cobra.Command {
	var showPrefs bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local identity, record server and service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := statusReport(cfg, logger, showPrefs)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showPrefs, "prefs", false, "also list every stored preference")
	return cmd
}

// statusReport checks the health endpoint before opening the preference
// store. A running serve holds the store, and only the health result is
// shown then.
func statusReport(cfg *config.Config, logger *zap.Logger, showPrefs bool) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := "unreachable"
	st, err := health.Check(ctx, cfg.HealthAddress)
	if err == nil {
		healthStatus = st.String()
	} else {
		logger.Debug("Health endpoint unreachable",
			zap.String("address", cfg.HealthAddress),
			zap.Error(err))
	}

	s, err := newSession(cfg, logger)
	if err != nil {
		if healthStatus == "unreachable" {
			return "", err
		}
		logger.Debug("Preferences unavailable, showing health only", zap.Error(err))
		return renderHealthOnly(cfg.HealthAddress, healthStatus), nil
	}
	defer s.Close()

	out := renderStatus(s.svc, healthStatus)
	if showPrefs {
		all, err := s.store.All(prefs.PathRoot)
		if err != nil {
			return "", err
		}
		out += "\n" + createPrefsTable(all)
	}
	return out, nil
}

func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List recording peers found on the network",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			s, err := openSession(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.svc.IsEnabled() {
				return whpvr.ErrDisabled
			}

			servers := s.svc.Servers()
			if len(servers) == 0 {
				fmt.Println(mutedStyle.Render("No recording peers found"))
				return nil
			}
			fmt.Println(createPeersTable(s.svc, servers))
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var exact bool

	cmd := &cobra.Command{
		Use:   "search <actor-or-director>",
		Short: "Search every peer by cast or director",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			s, err := openSession(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			var (
				results  []searchResult
				complete bool
			)
			err = s.svc.SearchByActorsDirector(args[0], exact, nil, "",
				func(udn string, objects []types.ContentObject) {
					for _, obj := range objects {
						results = append(results, searchResult{udn: udn, object: obj})
					}
				},
				func(ok bool) { complete = ok })
			if err != nil {
				return err
			}
			s.settle()

			if !complete {
				logger.Warn("Search did not complete on every peer")
			}
			sort.Slice(results, func(i, j int) bool {
				return results[i].object.Title < results[j].object.Title
			})
			fmt.Println(createSearchTable(s.svc, results))
			return nil
		},
	}

	cmd.Flags().BoolVar(&exact, "exact", false, "match the name exactly")
	return cmd
}

func enableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Switch whole-home recording on",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			s, err := openSession(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.svc.Enable() {
				fmt.Println(mutedStyle.Render("Whole-home recording is already enabled"))
			}
			return nil
		},
	}
}

func disableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Switch whole-home recording off",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			s, err := openSession(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if s.svc.Disable() {
				fmt.Println(accentValueStyle.Render("Whole-home recording disabled"))
			} else {
				fmt.Println(mutedStyle.Render("Whole-home recording is already disabled"))
			}
			return nil
		},
	}
}

func recordServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record-server [udn|local]",
		Short: "Show or choose the box new recordings go to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			s, err := openSession(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if len(args) == 1 {
				udn := args[0]
				if udn == "local" {
					udn = ""
				}
				if err := s.svc.SetCurrentRecordServer(udn); err != nil {
					return err
				}
			}

			fmt.Println(renderRecordServer(s.svc))
			return nil
		},
	}
}

func nameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "name [new-name]",
		Short: "Show or change the name this box advertises",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			s, err := openSession(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if len(args) == 1 {
				if err := s.svc.SetLocalName(args[0]); err != nil {
					return fmt.Errorf("failed to store name: %w", err)
				}
			}
			fmt.Println(valueStyle.Render(s.svc.LocalName()))
			return nil
		},
	}
}
