package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/allocator"
	"arbitration-service/client"
	"arbitration-service/config"
	"arbitration-service/estimation"
	"arbitration-service/queues"
	"arbitration-service/queues/memory"
	"arbitration-service/transport"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	requestResources    []string
	requestPriority     string
	requestPolicy       string
	requestInitiator    string
	requestDescription  string
	requestDelay        time.Duration
	requestDuration     time.Duration
	requestHold         time.Duration
	requestEstimate     string
	requestSubscription string
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Submit an allocation and follow it to a terminal state",
	Long: `Submit a timed claim on one or more resources and print every state the
allocation server broadcasts for it until it ends.

With --estimate the resources, duration and description are taken from what
the named submitter used before, and the observed usage is learned afterwards.

Interrupting the command (Ctrl-C) cancels or aborts the allocation.

Examples:
  # Claim the arm for five seconds, starting in one second
  allocctl request -r /robot/arm --delay 1s --duration 5s

  # Urgent human claim on two resources, released after two seconds
  allocctl request -r /robot/arm -r /robot/base -p URGENT -i HUMAN --hold 2s

  # Estimate resources from the submitter's history
  allocctl request --estimate /home/kitchen/coffee`,
	RunE: runRequest,
}

func init() {
	requestCmd.Flags().StringSliceVarP(&requestResources, "resource", "r", nil, "Resource id to claim (repeatable)")
	requestCmd.Flags().StringVarP(&requestPriority, "priority", "p", "NORMAL", "NO, LOW, NORMAL, HIGH, URGENT or EMERGENCY")
	requestCmd.Flags().StringVar(&requestPolicy, "policy", "MAXIMUM", "PRESERVE, FIRST or MAXIMUM")
	requestCmd.Flags().StringVarP(&requestInitiator, "initiator", "i", "SYSTEM", "SYSTEM or HUMAN")
	requestCmd.Flags().StringVarP(&requestDescription, "description", "d", "allocctl", "Free text carried with the allocation")
	requestCmd.Flags().DurationVar(&requestDelay, "delay", 0, "Slot start relative to now")
	requestCmd.Flags().DurationVar(&requestDuration, "duration", 10*time.Second, "Slot length")
	requestCmd.Flags().DurationVar(&requestHold, "hold", 0, "Release this long after ALLOCATED (0 holds until the slot ends)")
	requestCmd.Flags().StringVar(&requestEstimate, "estimate", "", "Submitter whose defaults to use instead of explicit resources")
	requestCmd.Flags().StringVar(&requestSubscription, "subscription", "", "Pub/Sub subscription for this client (pubsub transport only)")
	rootCmd.AddCommand(requestCmd)
}

func runRequest(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return printError("invalid configuration", err.Error())
	}

	priority, err := allocation.ParsePriority(requestPriority)
	if err != nil {
		return printError("invalid priority", err.Error())
	}
	policy, err := allocation.ParsePolicy(requestPolicy)
	if err != nil {
		return printError("invalid policy", err.Error())
	}
	initiator, err := allocation.ParseInitiator(requestInitiator)
	if err != nil {
		return printError("invalid initiator", err.Error())
	}
	if len(requestResources) == 0 && requestEstimate == "" {
		return printError("nothing to allocate", "No resources were given.",
			"Name resources:\n    allocctl request -r /robot/arm",
			"Or estimate them from a submitter:\n    allocctl request --estimate /home/kitchen/coffee")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	var estimator *estimation.Estimator
	if requestEstimate != "" {
		store, closeStore, err := openEstimationStore(cfg)
		if err != nil {
			return printError("estimation store unavailable", err.Error())
		}
		defer closeStore()
		if estimator, err = estimation.NewEstimator(ctx, store, requestEstimate, cfg.Scope); err != nil {
			return printError("estimation failed", err.Error())
		}
	}

	var opts []transport.Option
	if requestSubscription != "" {
		opts = append(opts, transport.WithSubscription(requestSubscription))
	}
	if cfg.Transport == config.TransportMemory {
		bus := memory.NewBus(memory.DefaultConfig())
		opts = append(opts, transport.WithBus(bus))
		if err := startEmbedded(runCtx, cfg, bus); err != nil {
			return printError("embedded server failed", err.Error())
		}
	}

	conn, err := transport.Open(ctx, cfg, "client-"+uuid.NewString()[:8], opts...)
	if err != nil {
		return printError("transport unavailable", err.Error(),
			fmt.Sprintf("Check the %s settings in the ALLOCATOR_* environment", cfg.Transport))
	}
	defer conn.Close()

	svc := client.NewService(conn, conn)
	go func() {
		if err := svc.Run(runCtx); err != nil {
			log.Error().Err(err).Msg("allocctl: receive loop stopped")
		}
	}()

	var proxy *client.Proxy
	if estimator != nil {
		a := estimator.Allocation(time.Now())
		a.Priority, a.Initiator = priority, initiator
		if len(requestResources) > 0 {
			a.ResourceIDs = requestResources
		}
		proxy = svc.NewProxy(a)
	} else {
		proxy = svc.NewRelative(requestDescription, policy, priority, initiator, requestDelay, requestDuration, requestResources...)
	}

	updates := proxy.Subscribe(64)
	printUpdate(os.Stdout, proxy.Current(), time.Now())
	if err := proxy.Schedule(ctx); err != nil {
		return printError("request not submitted", err.Error())
	}

	var (
		allocatedAt time.Time
		holdTimer   <-chan time.Time
		interrupted = ctx.Done()
		retry       <-chan time.Time
		last        allocation.Allocation
	)
	for {
		select {
		case a, ok := <-updates:
			if !ok {
				return finish(estimator, last, allocatedAt)
			}
			last = a
			printUpdate(os.Stdout, a, time.Now())
			if a.State == allocation.StateAllocated && allocatedAt.IsZero() {
				allocatedAt = time.Now()
				if requestHold > 0 {
					holdTimer = time.After(requestHold)
				}
			}
		case <-holdTimer:
			holdTimer = nil
			if err := proxy.Release(context.Background()); err != nil {
				return printError("release failed", err.Error())
			}
		case <-interrupted:
			interrupted = nil
			// A REQUESTED allocation cannot be cancelled yet; keep trying until a state allows it.
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			retry = ticker.C
			if err := proxy.Shutdown(context.Background()); err != nil {
				return printError("shutdown failed", err.Error())
			}
		case <-retry:
			if err := proxy.Shutdown(context.Background()); err != nil {
				return printError("shutdown failed", err.Error())
			}
		}
	}
}

// finish learns from the completed allocation and maps its outcome to an exit status.
func finish(est *estimation.Estimator, last allocation.Allocation, allocatedAt time.Time) error {
	if est != nil && !allocatedAt.IsZero() {
		ctx := context.Background()
		if err := est.AddDuration(ctx, time.Since(allocatedAt)); err != nil {
			log.Warn().Err(err).Msg("allocctl: failed to store duration")
		}
		for _, r := range last.ResourceIDs {
			if err := est.AddResource(ctx, r); err != nil {
				log.Warn().Err(err).Str("resource", r).Msg("allocctl: failed to store resource")
			}
		}
	}
	switch last.State {
	case allocation.StateReleased, allocation.StateCancelled:
		return nil
	case allocation.StateRejected:
		return printError("allocation rejected", last.Reason)
	case allocation.StateAborted:
		return printError("allocation aborted", last.Reason)
	}
	return fmt.Errorf("allocation ended in %s", last.State)
}

// startEmbedded runs an allocation server on bus, for the in-process memory transport.
func startEmbedded(ctx context.Context, cfg *config.Config, bus *memory.Bus) error {
	tieBreak, err := allocator.ParseTieBreak(cfg.TieBreak)
	if err != nil {
		return err
	}
	conn, err := transport.Open(ctx, cfg, queues.ServerOriginPrefix, transport.WithBus(bus))
	if err != nil {
		return err
	}
	ctrl := allocator.NewController(conn, allocator.WithTieBreak(tieBreak), allocator.WithSchedulingTimeout(cfg.SchedulingTimeout))
	go func() {
		if err := conn.Start(ctx, ctrl.HandleRecord); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("allocctl: embedded server stopped")
		}
	}()
	go func() { _ = ctrl.Run(ctx) }()

	select {
	case <-conn.Ready():
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("embedded server not ready")
	}
}

func openEstimationStore(cfg *config.Config) (estimation.Store, func(), error) {
	switch cfg.EstimationStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		return estimation.NewRedisStore(rdb, cfg.Scope+"estimation"), func() { _ = rdb.Close() }, nil
	case "file":
		s, err := estimation.NewFileStore(cfg.EstimationFile)
		return s, func() {}, err
	}
	return nil, func() {}, nil
}
