package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/client"
	"github.com/joseph-ayodele/flyerscan/internal/session"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "flyerd base URL")
		sessionID = flag.String("session", "", "session id to join (a new one is created when empty)")
		source    = flag.String("source", "flyerctl", "source label recorded on the job")
		cityState = flag.String("city", "", "user city/state hint, e.g. \"Austin, TX\"")
		lat       = flag.Float64("lat", 0, "user latitude (requires --lon)")
		lon       = flag.Float64("lon", 0, "user longitude (requires --lat)")
		noFollow  = flag.Bool("no-follow", false, "upload and print job ids without following progress")
		jobID     = flag.String("job", "", "print the current snapshot of a job and exit")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 && *jobID == "" {
		printError("usage: flyerctl [flags] image [image...]\n")
		os.Exit(1)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := common.NewLogger(common.LogConfig{Level: level}, os.Stderr)
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig()
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := client.UploadOptions{Source: *source, SessionID: *sessionID, CityState: *cityState}
	latSet, lonSet := flagSet("lat"), flagSet("lon")
	if latSet != lonSet {
		printError("Error: --lat and --lon must be given together\n")
		os.Exit(1)
	}
	if latSet {
		opts.Latitude, opts.Longitude = lat, lon
	}

	c := client.New(*serverURL, cfg.Retry, logger)

	if *jobID != "" {
		job, err := c.Job(ctx, *jobID)
		if err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
		if err := json.NewEncoder(os.Stdout).Encode(job); err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var jobIDs []string
	for _, path := range files {
		image, err := os.ReadFile(path)
		if err != nil {
			printError("Error: read %s: %v\n", path, err)
			os.Exit(1)
		}
		opts.Filename = filepath.Base(path)
		id, err := c.Upload(ctx, image, opts)
		if err != nil {
			printError("Error: upload %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("%s\t%s\n", id, path)
		jobIDs = append(jobIDs, id)
	}
	if *noFollow {
		return
	}

	last := map[string]string{}
	sid, err := c.Follow(ctx, *sessionID, jobIDs, func(msg session.ServerMessage) {
		switch msg.Type {
		case session.TypeError:
			printError("server: %s\n", msg.Message)
		case session.TypeSessionUpdate:
			for _, j := range msg.Jobs {
				line := fmt.Sprintf("%s %3d%% %s", j.Status, j.Progress, j.ProgressStep)
				if j.Error != nil {
					line += " " + j.Error.Code + ": " + j.Error.Message
				}
				if j.Result != nil {
					titles := make([]string, 0, len(j.Result.Events))
					for _, ev := range j.Result.Events {
						if ev.StructuredEvent != nil {
							titles = append(titles, ev.StructuredEvent.Title)
						}
					}
					line += fmt.Sprintf(" events=%d [%s]", len(j.Result.Events), strings.Join(titles, "; "))
				}
				if last[j.ID] != line {
					last[j.ID] = line
					fmt.Printf("%s\t%s\n", j.ID, line)
				}
			}
		}
	})
	if sid != "" {
		fmt.Printf("session\t%s\n", sid)
	}
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
