package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"lot_harvester/config"
	"lot_harvester/models"
	"lot_harvester/services"
)

const commandPollInterval = 2 * time.Second

// Runner starts one parsing run
type Runner interface {
	RunParsing(ctx context.Context) (*models.ReconcileResult, error)
}

// CommandQueue is the commands table, written by operators and read here
type CommandQueue interface {
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error
}

type Scheduler struct {
	cfg          config.SchedulerConfig
	runner       Runner
	commands     CommandQueue
	cron         *cron.Cron
	ticker       *time.Ticker
	stopCh       chan struct{}
	stopOnce     sync.Once
	paused       atomic.Bool
	pollInterval time.Duration
	wg           sync.WaitGroup
}

func New(cfg config.SchedulerConfig, runner Runner, commands CommandQueue) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		runner:       runner,
		commands:     commands,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		pollInterval: commandPollInterval,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.commands != nil {
		s.wg.Add(1)
		go s.pollCommands(ctx)
	}

	if s.cfg.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() {
			s.runScheduled(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.runScheduled(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, parsing runs only on request")
	}

	return nil
}

// Stop halts the schedule and waits for the background loops. A run already in
// progress is not interrupted; cancel its context for that.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) Pause() {
	s.paused.Store(true)
	log.Println("Scheduler paused")
}

func (s *Scheduler) Resume() {
	s.paused.Store(false)
	log.Println("Scheduler resumed")
}

func (s *Scheduler) IsPaused() bool {
	return s.paused.Load()
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if s.IsPaused() {
		log.Println("Scheduler is paused, skipping run")
		return
	}
	s.run(ctx, "scheduled")
}

func (s *Scheduler) run(ctx context.Context, trigger string) {
	res, err := s.runner.RunParsing(ctx)
	if errors.Is(err, services.ErrRunInProgress) {
		log.Printf("Skipping %s run: %v", trigger, err)
		return
	}
	if err != nil {
		log.Printf("%s run error: %v", trigger, err)
		return
	}
	if !res.Success {
		log.Printf("%s run failed: %v", trigger, res.Errors)
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.commands.GetPendingCommands(ctx)
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				s.handleCommand(ctx, &cmd)
				if err := s.commands.MarkCommandProcessed(ctx, cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) {
	switch cmd.Command {
	case models.CmdParseNow:
		// runs in the background so pause/resume keep flowing during a long crawl
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(ctx, "requested")
		}()
	case models.CmdPause:
		s.Pause()
	case models.CmdResume:
		s.Resume()
	default:
		log.Printf("Unknown command: %s", cmd.Command)
	}
}
