package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/di"
	"github.com/mikey/mail-triage/internal/factory"
	"go.uber.org/zap"
)

const usage = `Usage: triage-admin [flags] <command> [args]

Commands:
  fetch                      fetch new mail and classify it
  classify-all               classify every unclassified email
  categorize <id> <label>    apply a manual label to one email
  train <source>             train the local model (manual, openai, manual_24h, ai_24h, mixed)
  retrain                    reset the local model and train from scratch
  clear-training             remove manual rows from the training pool
  clear-emails               delete every stored email
  recalculate                rebuild the sender reputation table
  reputation [address]       list sender reputations
  stats                      print store statistics
  metrics                    print the latest training run metrics
`

func main() {
	flags := di.ParseFlags()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(func(
		logger *zap.Logger,
		classifier *core.ClassifierService,
		reputation *core.ReputationService,
		training *core.TrainingService,
		coordinator *core.JobCoordinator,
		stores *factory.Stores,
	) error {
		defer logger.Sync()
		defer stores.Close()
		return runCommand(flags, args, classifier, reputation, training, coordinator)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(
	flags *di.CLIFlags,
	args []string,
	classifier *core.ClassifierService,
	reputation *core.ReputationService,
	training *core.TrainingService,
	coordinator *core.JobCoordinator,
) error {
	ctx := context.Background()
	mode := core.ClassifyMode(flags.Mode)

	switch args[0] {
	case "fetch":
		return awaitJob(ctx, flags, coordinator, core.KindFetch, func(ctx context.Context) (interface{}, error) {
			fetched, classified, err := classifier.FetchAndClassify(ctx, mode)
			return map[string]interface{}{"fetch": fetched, "classify": classified}, err
		})

	case "classify-all":
		return awaitJob(ctx, flags, coordinator, core.KindClassifyAll, func(ctx context.Context) (interface{}, error) {
			return classifier.ClassifyAll(ctx, mode)
		})

	case "categorize":
		if len(args) != 3 {
			return fmt.Errorf("usage: triage-admin categorize <id> <label>")
		}
		if err := classifier.Categorize(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("Updated %s -> %s\n", args[1], args[2])
		return nil

	case "train":
		if len(args) != 2 {
			return fmt.Errorf("usage: triage-admin train <source>")
		}
		source := core.TrainingSource(args[1])
		return awaitJob(ctx, flags, coordinator, core.KindTrain, func(ctx context.Context) (interface{}, error) {
			return training.Train(ctx, source)
		})

	case "retrain":
		return awaitJob(ctx, flags, coordinator, core.KindTrain, func(ctx context.Context) (interface{}, error) {
			return training.RetrainFromScratch(ctx)
		})

	case "clear-training":
		affected, err := training.ClearTrainingData(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d emails from the training pool\n", affected)
		return nil

	case "clear-emails":
		if err := classifier.ClearEmails(ctx); err != nil {
			return err
		}
		fmt.Println("Email store cleared")
		return nil

	case "recalculate":
		return awaitJob(ctx, flags, coordinator, core.KindRecalculate, func(ctx context.Context) (interface{}, error) {
			return reputation.Recalculate(ctx)
		})

	case "reputation":
		filter := core.SenderFilter{}
		if len(args) > 1 {
			filter.Address = args[1]
		}
		senders, err := reputation.List(ctx, filter)
		if err != nil {
			return err
		}
		for _, s := range senders {
			fmt.Printf("%-40s %.4f %-10s %v\n", s.Address, s.Score, s.State, s.Counts)
		}
		fmt.Printf("%d senders\n", len(senders))
		return nil

	case "stats":
		stats, err := classifier.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "metrics":
		run, err := training.Metrics(ctx)
		if err != nil {
			return err
		}
		if run == nil {
			fmt.Println("No training run recorded yet")
			return nil
		}
		return printJSON(run)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// awaitJob runs fn through the coordinator and polls it to completion
// within the configured wait budget. A job that outlives the budget is
// reported as indeterminate, not failed: it keeps running server-side.
func awaitJob(
	ctx context.Context,
	flags *di.CLIFlags,
	coordinator *core.JobCoordinator,
	kind core.JobKind,
	fn core.JobFunc,
) error {
	interval, err := time.ParseDuration(flags.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid poll interval: %w", err)
	}
	budget, err := time.ParseDuration(flags.PollBudget)
	if err != nil {
		return fmt.Errorf("invalid poll budget: %w", err)
	}

	snap, err := coordinator.Trigger(kind, fn)
	if err != nil {
		return err
	}
	fmt.Printf("Job %s (%s) started\n", snap.ID, snap.Kind)

	snap, err = coordinator.Await(ctx, snap.ID, interval, budget)
	if core.IsKind(err, core.ErrIndeterminate) {
		fmt.Printf("Job %s still %s after %s; it keeps running, poll again later\n",
			snap.ID, snap.Status, flags.PollBudget)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Job %s %s\n", snap.ID, snap.Status)
	if snap.Result != nil {
		return printJSON(snap.Result)
	}
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
