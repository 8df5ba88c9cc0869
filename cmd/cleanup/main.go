package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/database"
	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/repository"
)

var (
	dryRun     = flag.Bool("dry-run", true, "Dry run mode, don't actually delete rows")
	retainDays = flag.Int("retain-days", 90, "Days to keep analysis runs and their suggestions")
)

func main() {
	flag.Parse()

	log.Println("Starting cleanup task...")
	log.Printf("Mode: dry-run=%v, retain-days=%d", *dryRun, *retainDays)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	cutoff := time.Now().AddDate(0, 0, -*retainDays)

	var stale []*model.AnalysisRun
	if err := db.Where("started_at < ?", cutoff).Find(&stale).Error; err != nil {
		log.Fatalf("Failed to list stale runs: %v", err)
	}
	if len(stale) == 0 {
		log.Println("Nothing to clean up")
		return
	}

	runIDs := make([]string, 0, len(stale))
	for _, run := range stale {
		runIDs = append(runIDs, run.ID)
	}
	log.Printf("Found %d run(s) older than %s", len(stale), cutoff.Format(time.RFC3339))

	if *dryRun {
		log.Println("Dry run: no rows deleted")
		return
	}

	suggestionRepo := repository.NewSuggestionRepository(db)
	deleted, err := suggestionRepo.DeleteByRunIDs(runIDs)
	if err != nil {
		log.Fatalf("Failed to delete suggestions: %v", err)
	}
	log.Printf("Deleted %d suggestion(s)", deleted)

	runRepo := repository.NewRunRepository(db)
	deletedRuns, err := runRepo.DeleteOlderThan(cutoff)
	if err != nil {
		log.Fatalf("Failed to delete runs: %v", err)
	}
	log.Printf("Deleted %d run(s)", deletedRuns)
}
