// Package automation provides the schedule and trigger engines for
// RelayBus Core.
//
// Schedules switch a relay on and off at fixed wall-clock times on chosen
// weekdays. Triggers switch a relay when the latest reading of a sensor
// channel satisfies a comparison, at most once per cooldown. Both issue
// their commands through the command queue; neither talks to a bus.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────────┐
//	│   Scheduler (scheduler.go)     Evaluator (evaluator.go)  │
//	│   once per minute              after each sensor cycle   │
//	│          │                              │                │
//	│          └──────────┐       ┌───────────┘                │
//	│                     ▼       ▼                            │
//	│               ┌──────────────────┐    ┌──────────────┐   │
//	│               │     Registry     │───▶│  Repository  │   │
//	│               │  (registry.go)   │    │   (SQLite)   │   │
//	│               └──────────────────┘    └──────────────┘   │
//	│                        │                                 │
//	│                        ▼                                 │
//	│           command.Queue.Submit(source=schedule|trigger)  │
//	└──────────────────────────────────────────────────────────┘
//
// # Scheduling
//
// Times are evaluated in the site time zone at minute resolution. Each tick
// looks at the minutes crossed since the previous tick, never more than two,
// so there is no catch-up after downtime and re-enabling a schedule inside
// its window does not replay the missed transition. A schedule whose on
// time is later than its off time is active across midnight; one whose on
// and off times are equal never fires.
//
// # Triggers
//
// Comparisons are exact, including == and != on floating values. Cooldown
// is measured from the last command the queue accepted. Triggers are
// one-directional: a condition that stops holding does not issue the
// reverse action.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db)
//	rules := automation.NewRegistry(repo)
//	if err := rules.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	scheduler := automation.NewScheduler(rules, queue, cfg.Location(), cfg.ScheduleTick())
//	go scheduler.Run(ctx)
//
//	evaluator := automation.NewEvaluator(rules, readings, devices, queue)
//	poller.AfterSensorCycle(func(ctx context.Context, at time.Time) {
//	    evaluator.Evaluate(ctx, at)
//	})
package automation
