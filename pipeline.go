package transitstats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrStageCycle = errors.New("stages depend on each other in a cycle")

const runsTable = internalTablePrefix + "_runs"

const runsDDL = `CREATE TABLE IF NOT EXISTS ` + runsTable + ` (
	run_id TEXT, position INTEGER, stage TEXT, status TEXT, started_at TEXT,
	duration_ms INTEGER, error TEXT)`

// Stage statuses recorded per run.
const (
	StageSucceeded = "succeeded"
	StageFailed    = "failed"
	StageSkipped   = "skipped"
)

// Stage is one transform. It may only read Inputs and must (re)build every table in Outputs.
type Stage struct {
	Name    string
	Inputs  []string
	Outputs []string
	Run     func(store *Store) error
}

type Pipeline struct {
	stages []Stage

	// SkipUnavailable skips stages whose inputs neither exist nor are produced by an earlier
	// stage of the run, and everything downstream of them. Otherwise such a stage fails the run
	// with ErrMissingTable.
	SkipUnavailable bool
}

type StageResult struct {
	Stage    string
	Status   string
	Duration time.Duration
	Err      error
}

type RunReport struct {
	RunID  string
	Stages []StageResult
}

func NewPipeline(stages ...Stage) *Pipeline {
	p := &Pipeline{}
	for _, stage := range stages {
		p.Add(stage)
	}
	return p
}

func (p *Pipeline) Add(stage Stage) {
	if stage.Name == "" || stage.Run == nil {
		panic("stage needs a Name and Run")
	}
	p.stages = append(p.stages, stage)
}

// Order sorts the stages so every stage comes after the stages producing its inputs. Stages
// that do not depend on each other keep their registration order.
func (p *Pipeline) Order() ([]Stage, error) {
	producers := make(map[string][]int)
	for i, stage := range p.stages {
		for _, table := range stage.Outputs {
			producers[table] = append(producers[table], i)
		}
	}

	deps := make([][]int, len(p.stages))
	for i, stage := range p.stages {
		for _, table := range stage.Inputs {
			for _, j := range producers[table] {
				if j != i && !slices.Contains(deps[i], j) {
					deps[i] = append(deps[i], j)
				}
			}
		}
	}

	done := make([]bool, len(p.stages))
	ordered := make([]Stage, 0, len(p.stages))
	for len(ordered) < len(p.stages) {
		next := -1
		for i := range p.stages {
			if done[i] {
				continue
			}
			ready := true
			for _, j := range deps[i] {
				if !done[j] {
					ready = false
					break
				}
			}
			if ready {
				next = i
				break
			}
		}
		if next == -1 {
			var stuck []string
			for i, stage := range p.stages {
				if !done[i] {
					stuck = append(stuck, stage.Name)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrStageCycle, strings.Join(stuck, ", "))
		}
		done[next] = true
		ordered = append(ordered, p.stages[next])
	}
	return ordered, nil
}

// Run executes every stage in dependency order on one goroutine, stopping at the first failure.
// Cancelling ctx interrupts the statement in flight. Each stage is recorded in the runs table
// under a fresh run id.
func (p *Pipeline) Run(ctx context.Context, store *Store) (*RunReport, error) {
	ordered, err := p.Order()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer store.withInterrupt(ctx)()

	if err := store.exec(runsDDL, nil); err != nil {
		return nil, err
	}

	report := &RunReport{RunID: uuid.New().String()}
	logger := slog.With("run_id", report.RunID)
	logger.Info(fmt.Sprintf("Running %d stages", len(ordered)))

	unavailable := make(map[string]bool)
	for position, stage := range ordered {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := StageResult{Stage: stage.Name}
		started := time.Now()
		err := p.checkInputs(store, stage, unavailable)
		if err != nil && p.SkipUnavailable && errors.Is(err, ErrMissingTable) {
			logger.Warn(fmt.Sprintf("Skipping %s", stage.Name), "reason", err.Error())
			result.Status = StageSkipped
			for _, table := range stage.Outputs {
				unavailable[table] = true
			}
			err = nil
		} else if err == nil {
			logger.Info(fmt.Sprintf("Running %s", stage.Name), "stage", stage.Name)
			err = stage.Run(store)
			result.Status = StageSucceeded
		}
		result.Duration = time.Since(started)

		if err != nil {
			result.Status = StageFailed
			result.Err = fmt.Errorf("stage %s: %w", stage.Name, err)
		}
		report.Stages = append(report.Stages, result)
		if recordErr := recordStage(store, report.RunID, position, started, result); recordErr != nil {
			logger.Error("Failed to record stage result", "stage", stage.Name, "error", recordErr)
		}
		if result.Err != nil {
			logger.Error(result.Err.Error(), "stage", stage.Name)
			return report, result.Err
		}
	}

	logger.Info("Run complete")
	return report, nil
}

func (p *Pipeline) checkInputs(store *Store, stage Stage, unavailable map[string]bool) error {
	for _, table := range stage.Inputs {
		if unavailable[table] {
			return fmt.Errorf("%w: %s was not built", ErrMissingTable, table)
		}
	}
	return store.RequireTables(stage.Inputs...)
}

func recordStage(store *Store, runID string, position int, started time.Time, result StageResult) error {
	var errText any
	if result.Err != nil {
		errText = result.Err.Error()
	}
	return store.exec(`INSERT INTO `+runsTable+` (run_id, position, stage, status, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, nil,
		runID, position, result.Stage, result.Status, started.UTC().Format(time.RFC3339),
		result.Duration.Milliseconds(), errText)
}

// StandardStages is the full build graph: the connection graph, active trips and service
// frequency for each of dates, the reference tables and every summary derived from them.
func StandardStages(dates ...time.Time) []Stage {
	stages := []Stage{
		{
			Name:    "edges",
			Inputs:  []string{tableStopTimes, tableTrips},
			Outputs: []string{tableEdges},
			Run:     MaterializeEdges,
		},
		{
			Name:    "weighted_edges",
			Inputs:  []string{tableEdges, tableStops},
			Outputs: []string{tableWeightedEdges},
			Run:     MaterializeWeightedEdges,
		},
		{
			Name:    "network_stats",
			Inputs:  []string{tableWeightedEdges},
			Outputs: []string{tableStopDegree, tableNetworkStats},
			Run:     MaterializeNetworkStats,
		},
	}

	for _, date := range dates {
		stages = append(stages, Stage{
			Name:    "active_trips " + date.Format(time.DateOnly),
			Inputs:  []string{tableTrips, tableCalendar, tableCalendarDates},
			Outputs: []string{tableActiveTrips},
			Run: func(store *Store) error {
				_, err := MaterializeActiveTrips(store, date)
				return err
			},
		})
	}

	if len(dates) > 0 {
		stages = append(stages, Stage{
			Name:    "frequency",
			Inputs:  []string{tableActiveTrips, tableStopTimes},
			Outputs: []string{tableRouteFrequency, tableStopHeadways, tableHourlyDepartures},
			Run:     MaterializeFrequency,
		})
	}

	return append(stages,
		Stage{
			Name:    "references",
			Inputs:  []string{tableRoutes, tableStops},
			Outputs: []string{tableRouteRefs, tableStopRefs},
			Run:     MaterializeReferences,
		},
		Stage{
			Name:    "passup_summary",
			Inputs:  []string{tablePassUps},
			Outputs: []string{tableRoutePassUps},
			Run:     MaterializePassUpSummary,
		},
		Stage{
			Name:    "ontime_summary",
			Inputs:  []string{tableOnTime},
			Outputs: []string{tableRouteOnTime, tableStopOnTime},
			Run:     MaterializeOnTimeSummaries,
		},
		Stage{
			Name:    "boarding_summary",
			Inputs:  []string{tablePassengerCounts},
			Outputs: []string{tableStopBoardings},
			Run:     MaterializeBoardingSummary,
		},
		Stage{
			Name:    "coverage",
			Inputs:  []string{tableStops, tableNeighbourhoods, tableCommunities},
			Outputs: []string{tableNeighbourhoodCoverage, tableCommunityCoverage},
			Run:     MaterializeCoverage,
		},
		Stage{
			Name:    "route_performance",
			Inputs:  []string{tableRouteRefs, tableRoutePassUps, tableRouteOnTime},
			Outputs: []string{tableRoutePerformance},
			Run:     MaterializeRoutePerformance,
		},
		Stage{
			Name:    "stop_performance",
			Inputs:  []string{tableStopRefs, tableStopOnTime, tableStopBoardings},
			Outputs: []string{tableStopPerformance},
			Run:     MaterializeStopPerformance,
		},
	)
}
