package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/songquiz/internal/gitsource"
	"github.com/conorfennell/songquiz/internal/knol"
	"github.com/conorfennell/songquiz/internal/parser"
	"github.com/conorfennell/songquiz/internal/storage"
)

const (
	TypeLocal = "local"
	TypeGit   = "git"
)

// Report summarizes one sync run across every source.
type Report struct {
	Sources  int `json:"sources"`
	Parsed   int `json:"parsed"`
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
	Errors   int `json:"errors"`
}

func (r *Report) add(o Report) {
	r.Parsed += o.Parsed
	r.Upserted += o.Upserted
	r.Deleted += o.Deleted
	r.Errors += o.Errors
}

// ErrSourceExists is returned by AddSource for a path that is already
// registered.
var ErrSourceExists = errors.New("source already exists")

// AddSource registers a local directory or git URL as a source. Local paths
// are stored absolute so one directory cannot be added twice under different
// spellings.
func AddSource(ctx context.Context, db *storage.DB, path string) (*storage.Source, error) {
	sourceType := SourceType(path)
	if sourceType == TypeLocal {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source path %s: %w", path, err)
		}
		path = abs
	}

	existing, err := db.FindSourceByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, fmt.Errorf("%w: %s", ErrSourceExists, path)
	}

	id, err := db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return nil, err
	}
	slog.Info("Source added", "id", id, "type", sourceType, "path", path)
	return &storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// SourceType classifies a source path as a git remote or a local directory.
func SourceType(path string) string {
	if strings.HasSuffix(path, ".git") ||
		strings.HasPrefix(path, "git@") ||
		strings.HasPrefix(path, "https://") ||
		strings.HasPrefix(path, "http://") ||
		strings.HasPrefix(path, "ssh://") {
		return TypeGit
	}
	return TypeLocal
}

// RunSync iterates over all sources and reconciles them. A failing source is
// logged and counted in the report; only failing to list sources or to
// prepare reposDir aborts the run.
func RunSync(ctx context.Context, db *storage.DB, reposDir string) (Report, error) {
	var report Report
	slog.Info("Starting sync process for all sources...")
	sources, err := db.GetAllSources(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to get sources: %w", err)
	}

	if len(sources) == 0 {
		slog.Info("No sources configured. Add one with --add-source <path/or/url.git>")
		return report, nil
	}

	if err := os.MkdirAll(reposDir, os.ModePerm); err != nil {
		return report, fmt.Errorf("failed to create repos directory %s: %w", reposDir, err)
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		slog.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)
		report.Sources++

		sourceToReconcile := source
		if source.Type == TypeGit {
			localRepoPath, err := gitUrlToLocalPath(reposDir, source.Path)
			if err != nil {
				slog.Error("Error determining local path for git repo", "url", source.Path, "error", err)
				report.Errors++
				continue
			}
			if err := gitsource.Sync(ctx, source.Path, localRepoPath, nil); err != nil {
				slog.Error("Error syncing git repo", "url", source.Path, "error", err)
				report.Errors++
				continue
			}
			sourceToReconcile.Path = localRepoPath
		}

		report.add(reconcileLocalSource(ctx, db, &sourceToReconcile))
	}
	slog.Info("Sync process complete.",
		"sources", report.Sources,
		"parsed", report.Parsed,
		"upserted", report.Upserted,
		"deleted", report.Deleted,
		"errors", report.Errors,
	)
	return report, nil
}

type bankKey struct {
	song, locale string
}

// reconcileLocalSource makes the stored questions of a source match the
// banks found under its path. Files are visited in lexical order and each
// question's position counts up per song and locale across the whole source.
func reconcileLocalSource(ctx context.Context, db *storage.DB, source *storage.Source) Report {
	var report Report
	var parseErrors []error
	found := make(map[string]bool)
	positions := make(map[bankKey]int)

	walkErr := filepath.WalkDir(source.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != source.Path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		fileQuestions, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			parseErrors = append(parseErrors, fmt.Errorf("parsing %s: %w", path, parseErr))
		}
		for _, q := range fileQuestions {
			if q.UUID == "" {
				q.UUID = knol.QuestionID(q)
			}
			if found[q.UUID] {
				parseErrors = append(parseErrors, fmt.Errorf("%s: duplicate question id %s", path, q.UUID))
				continue
			}
			found[q.UUID] = true
			report.Parsed++

			key := bankKey{q.SongID, q.Locale}
			q.Position = positions[key]
			positions[key]++
			q.Hash = knol.Hash(q)

			if err := db.UpsertQuestion(ctx, q, source.ID); err != nil {
				parseErrors = append(parseErrors, fmt.Errorf("db upsert for %s: %w", q.UUID, err))
				continue
			}
			report.Upserted++
		}
		return nil
	})

	if walkErr != nil {
		slog.Error("Error walking directory", "path", source.Path, "error", walkErr)
		report.Errors += 1 + countErrors(parseErrors)
		return report
	}

	stored, err := db.GetQuestionUUIDsBySourceID(ctx, source.ID)
	if err != nil {
		slog.Error("Error getting questions for source", "source_id", source.ID, "error", err)
		report.Errors += 1 + countErrors(parseErrors)
		return report
	}

	for _, id := range stored {
		if found[id] {
			continue
		}
		slog.Info("Orphaned question, deleting", "uuid", id)
		if err := db.DeleteQuestionByUUID(ctx, id); err != nil {
			slog.Warn("Failed to delete orphaned question", "uuid", id, "error", err)
			parseErrors = append(parseErrors, err)
			continue
		}
		report.Deleted++
	}

	if err := db.UpdateSourceLastScanned(ctx, source.ID); err != nil {
		slog.Warn("Failed to update last scanned for source", "source_id", source.ID, "error", err)
	}

	for _, e := range parseErrors {
		slog.Warn("Problem in source", "source_id", source.ID, "error", e)
	}
	report.Errors += countErrors(parseErrors)

	slog.Info("reconciliation complete",
		"path", source.Path,
		"parsed_questions", report.Parsed,
		"orphaned_deleted", report.Deleted,
		"errors", report.Errors,
	)
	return report
}

// countErrors counts the individual problems behind errors.Join results so a
// file with three bad questions reports three errors.
func countErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		n += leafCount(err)
	}
	return n
}

func leafCount(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		n := 0
		for _, e := range joined.Unwrap() {
			n += leafCount(e)
		}
		return n
	}
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		if inner := wrapped.Unwrap(); inner != nil {
			return leafCount(inner)
		}
	}
	return 1
}

func gitUrlToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http" && parsedURL.Scheme != "ssh") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	if sanitizedPath == "" || sanitizedPath == "/" {
		return "", fmt.Errorf("git URL has no repository path: %s", repoURL)
	}
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}
