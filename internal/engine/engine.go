// Package engine is the orchestration layer the CLI and HTTP server share.
// It composes the identifier scheme, the status machine, the dependency
// graph and group propagation, and journals every mutation.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"specline/internal/app"
	"specline/internal/domain"
	"specline/internal/events"
	"specline/internal/graph"
	"specline/internal/group"
	"specline/internal/lifecycle"
	"specline/internal/lock"
	"specline/internal/merge"
	"specline/internal/repo"
	"specline/internal/specid"
)

var ErrNotReady = errors.New("spec is not ready")

// NotReadyError lists what keeps a spec from starting.
type NotReadyError struct {
	ID       string
	Blockers []graph.Blocker
}

func (e *NotReadyError) Error() string {
	parts := make([]string, 0, len(e.Blockers))
	for _, b := range e.Blockers {
		parts = append(parts, fmt.Sprintf("%s (%s)", b.ID, b.Reason))
	}
	return fmt.Sprintf("%s: %s: blocked by %s", e.ID, ErrNotReady.Error(), strings.Join(parts, ", "))
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }

const createAttempts = 8

type Engine struct {
	App    app.Context
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Locks  lock.Manager
	Logger *slog.Logger
	Now    func() time.Time
}

// New wires an engine for ctx. db may be nil, which disables journaling.
func New(ctx app.Context, db *sql.DB, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := ctx.Now
	if now == nil {
		now = time.Now
	}
	return Engine{
		App:    ctx,
		DB:     db,
		Repo:   ctx.Repo(),
		Events: events.Writer{DB: db, Now: now},
		Locks:  lock.Manager{Dir: ctx.StateDir(), Now: now},
		Logger: logger,
		Now:    now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// record journals an event. The specs directory is the source of truth, so
// a journal failure is logged and does not fail the operation.
func (e Engine) record(ctx context.Context, evtType, specID, actor string, payload events.EventPayload) {
	if e.DB == nil {
		return
	}
	if _, err := e.Events.Append(ctx, evtType, specID, actor, payload); err != nil {
		e.logger().Warn("journal append failed", "type", evtType, "spec", specID, "err", err)
	}
}

// Resolver resolves dependencies against the local repo and configured repos.
func (e Engine) Resolver() graph.Resolver {
	return graph.Resolver{Local: e.Repo, Repos: e.App.Repos, HomeDir: e.App.HomeDir}
}

// Snapshot loads every spec once for readiness and ordering queries.
func (e Engine) Snapshot() (*graph.Snapshot, error) {
	return e.Resolver().Snapshot()
}

func (e Engine) Get(id string) (*domain.Spec, error) {
	if _, err := specid.Parse(id); err != nil {
		return nil, err
	}
	return e.Repo.Load(id)
}

func (e Engine) propagator() group.Propagator {
	return group.Propagator{Store: e.Repo, Now: e.now}
}

// SpecCreateOptions are parameters for creating a spec.
type SpecCreateOptions struct {
	Title       string
	Type        string
	Body        string
	DependsOn   []string
	Labels      []string
	TargetFiles []string
	Context     []string
	// DriverID creates the next member of an existing driver instead of a
	// new top-level spec.
	DriverID string
	Actor    string
}

func (e Engine) Create(ctx context.Context, opts SpecCreateOptions) (*domain.Spec, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return nil, errors.New("title is required")
	}
	for _, dep := range opts.DependsOn {
		if _, err := specid.Parse(dep); err != nil {
			return nil, fmt.Errorf("depends_on: %w", err)
		}
	}
	if opts.Type == "" {
		opts.Type = "code"
	}
	spec := &domain.Spec{
		Type:        opts.Type,
		Status:      domain.StatusPending,
		DependsOn:   opts.DependsOn,
		Labels:      opts.Labels,
		TargetFiles: opts.TargetFiles,
		Context:     opts.Context,
		Body:        renderBody(opts.Title, opts.Body),
	}
	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		spec.ID, err = e.nextID(opts.DriverID)
		if err != nil {
			return nil, err
		}
		err = e.Repo.Create(spec)
		if !errors.Is(err, repo.ErrAlreadyExists) {
			break
		}
		e.logger().Debug("id collision, retrying", "id", spec.ID, "attempt", attempt+1)
	}
	if err != nil {
		return nil, err
	}
	e.record(ctx, events.TypeSpecCreated, spec.ID, opts.Actor, events.EventPayload{
		"title":      opts.Title,
		"type":       spec.Type,
		"depends_on": spec.DependsOn,
	})
	return spec, nil
}

func (e Engine) nextID(driverID string) (string, error) {
	if driverID == "" {
		gen := specid.Generator{Dir: e.App.SpecsDir, ArchiveDir: e.App.ArchiveDir, Project: e.App.Prefix}
		return gen.Next(e.now())
	}
	driver, err := specid.Parse(driverID)
	if err != nil {
		return "", err
	}
	if driver.IsCrossRepo() {
		return "", fmt.Errorf("driver %s: members must live in the local repository", driverID)
	}
	if _, err := e.Repo.Load(driverID); err != nil {
		return "", fmt.Errorf("driver %s: %w", driverID, err)
	}
	active, err := e.Repo.List()
	if err != nil {
		return "", err
	}
	archived, err := e.Repo.ListArchived()
	if err != nil {
		return "", err
	}
	next := 1
	for _, m := range group.Members(driverID, append(active, archived...)) {
		path := specid.MemberPath(m.ID)
		if len(path) == len(driver.Members)+1 && path[len(path)-1] >= next {
			next = path[len(path)-1] + 1
		}
	}
	driver.Members = append(driver.Members, next)
	return driver.String(), nil
}

func renderBody(title, body string) string {
	var b strings.Builder
	b.WriteString("\n# ")
	b.WriteString(strings.TrimSpace(title))
	b.WriteString("\n")
	if text := strings.TrimSpace(body); text != "" {
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("\n")
	}
	if !strings.Contains(body, "## Acceptance Criteria") {
		b.WriteString("\n## Acceptance Criteria\n\n- [ ] \n")
	}
	return b.String()
}

// Transition applies a validated status change and any group cascade.
func (e Engine) Transition(ctx context.Context, id string, to domain.Status, actor string) (*domain.Spec, error) {
	spec, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	from := spec.Status
	if err := lifecycle.Transition(spec, to); err != nil {
		return nil, err
	}
	e.stamp(spec, from)
	if err := e.Repo.Save(spec); err != nil {
		return nil, err
	}
	e.record(ctx, events.TypeSpecTransitioned, id, actor, events.EventPayload{"from": from, "to": to})
	if err := e.cascade(ctx, spec, actor); err != nil {
		return spec, err
	}
	return spec, nil
}

// ForceTransition skips the adjacency check. It is journaled separately so
// administrative overrides stay auditable.
func (e Engine) ForceTransition(ctx context.Context, id string, to domain.Status, actor, reason string) (*domain.Spec, error) {
	spec, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	from := spec.Status
	if err := lifecycle.ForceTransition(spec, to); err != nil {
		return nil, err
	}
	e.stamp(spec, from)
	if err := e.Repo.Save(spec); err != nil {
		return nil, err
	}
	e.record(ctx, events.TypeSpecForced, id, actor, events.EventPayload{"from": from, "to": to, "reason": reason})
	if err := e.cascade(ctx, spec, actor); err != nil {
		return spec, err
	}
	return spec, nil
}

// stamp fills completion provenance and clears it when a spec is reopened.
func (e Engine) stamp(spec *domain.Spec, from domain.Status) {
	switch {
	case spec.Status == domain.StatusCompleted && spec.CompletedAt == "":
		spec.CompletedAt = e.timestamp()
	case from == domain.StatusCompleted && spec.Status != domain.StatusCompleted:
		spec.CompletedAt = ""
	}
}

// cascade keeps a member's driver in step after the member changed status.
func (e Engine) cascade(ctx context.Context, member *domain.Spec, actor string) error {
	driverID, isMember := specid.DriverOf(member.ID)
	if !isMember {
		return nil
	}
	var (
		change *group.Change
		err    error
	)
	p := e.propagator()
	switch member.Status {
	case domain.StatusInProgress:
		change, err = p.MarkDriverInProgress(driverID)
	case domain.StatusFailed:
		change, err = p.MarkDriverFailedOnMemberFailure(member.ID)
	case domain.StatusCompleted, domain.StatusCancelled:
		var items []*domain.Spec
		items, err = e.Repo.List()
		if err == nil {
			archived, aerr := e.Repo.ListArchived()
			if aerr != nil {
				return aerr
			}
			items = append(items, archived...)
			change, err = p.AutoCompleteDriverIfReady(member.ID, items)
		}
	}
	if err != nil {
		return fmt.Errorf("cascade to driver %s: %w", driverID, err)
	}
	if change != nil {
		e.logger().Info("driver cascaded", "driver", change.DriverID, "from", change.From, "to", change.To, "member", member.ID)
		e.record(ctx, events.TypeDriverCascaded, change.DriverID, actor, events.EventPayload{
			"from": change.From, "to": change.To, "member": member.ID,
		})
	}
	return nil
}

// StartOptions control StartWork.
type StartOptions struct {
	Actor string
	// PID is the worker process recorded in the PID file; 0 uses this process.
	PID int
	// Force starts even if dependencies or earlier members are unfinished.
	Force bool
}

// StartWork moves a ready spec to in_progress and records its worker. The
// per-spec lock serializes concurrent starts; the status check is what
// rejects a spec that is already in progress.
func (e Engine) StartWork(ctx context.Context, id string, opts StartOptions) (*domain.Spec, error) {
	h, err := e.Locks.Acquire(id)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	spec, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if !opts.Force && (spec.Status == domain.StatusPending || spec.Status == domain.StatusFailed || spec.Status == domain.StatusReady) {
		snap, err := e.Snapshot()
		if err != nil {
			return nil, err
		}
		if blockers := graph.Blockers(spec, snap); len(blockers) > 0 {
			return nil, &NotReadyError{ID: id, Blockers: blockers}
		}
	}
	from := spec.Status
	if err := lifecycle.Transition(spec, domain.StatusInProgress); err != nil {
		return nil, err
	}
	if err := e.Repo.Save(spec); err != nil {
		return nil, err
	}
	pid := opts.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	if err := e.Locks.WritePID(id, pid); err != nil {
		e.logger().Warn("write pid file failed", "spec", id, "err", err)
	}
	e.record(ctx, events.TypeSpecStarted, id, opts.Actor, events.EventPayload{"from": from, "pid": pid, "forced": opts.Force})
	if err := e.cascade(ctx, spec, opts.Actor); err != nil {
		return spec, err
	}
	return spec, nil
}

// CompleteOptions carry completion provenance.
type CompleteOptions struct {
	Commits []string
	Branch  string
	Model   string
	Actor   string
}

func (e Engine) Complete(ctx context.Context, id string, opts CompleteOptions) (*domain.Spec, error) {
	spec, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Transition(spec, domain.StatusCompleted); err != nil {
		return nil, err
	}
	spec.CompletedAt = e.timestamp()
	for _, c := range opts.Commits {
		if !contains(spec.Commits, c) {
			spec.Commits = append(spec.Commits, c)
		}
	}
	if opts.Branch != "" {
		spec.Branch = opts.Branch
	}
	if opts.Model != "" {
		spec.Model = opts.Model
	}
	if err := e.Repo.Save(spec); err != nil {
		return nil, err
	}
	e.releasePID(id)
	e.record(ctx, events.TypeSpecCompleted, id, opts.Actor, events.EventPayload{"commits": spec.Commits, "branch": spec.Branch})
	if err := e.cascade(ctx, spec, opts.Actor); err != nil {
		return spec, err
	}
	return spec, nil
}

func (e Engine) Fail(ctx context.Context, id, reason, actor string) (*domain.Spec, error) {
	spec, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Transition(spec, domain.StatusFailed); err != nil {
		return nil, err
	}
	if err := e.Repo.Save(spec); err != nil {
		return nil, err
	}
	e.releasePID(id)
	e.record(ctx, events.TypeSpecFailed, id, actor, events.EventPayload{"reason": reason})
	if err := e.cascade(ctx, spec, actor); err != nil {
		return spec, err
	}
	return spec, nil
}

// Cancel is a validated transition to cancelled. A cancelled member counts
// as done for its driver.
func (e Engine) Cancel(ctx context.Context, id, actor string) (*domain.Spec, error) {
	spec, err := e.Transition(ctx, id, domain.StatusCancelled, actor)
	if err != nil {
		return spec, err
	}
	e.releasePID(id)
	return spec, nil
}

// Reset returns a spec to pending from any status and clears completion
// provenance.
func (e Engine) Reset(ctx context.Context, id, actor string) (*domain.Spec, error) {
	spec, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	from := spec.Status
	if err := lifecycle.ForceTransition(spec, domain.StatusPending); err != nil {
		return nil, err
	}
	spec.CompletedAt = ""
	if err := e.Repo.Save(spec); err != nil {
		return nil, err
	}
	e.releasePID(id)
	e.record(ctx, events.TypeSpecReset, id, actor, events.EventPayload{"from": from})
	return spec, nil
}

func (e Engine) releasePID(id string) {
	if err := e.Locks.RemovePID(id); err != nil {
		e.logger().Warn("remove pid file failed", "spec", id, "err", err)
	}
}

// Archive moves a terminal spec, and the members of a driver, into the
// archive. force archives non-terminal specs.
func (e Engine) Archive(ctx context.Context, id string, force bool, actor string) ([]string, error) {
	if _, err := e.Get(id); err != nil {
		return nil, err
	}
	active, err := e.Repo.List()
	if err != nil {
		return nil, err
	}
	ids := []string{id}
	for _, m := range group.Members(id, active) {
		ids = append(ids, m.ID)
	}
	if !force {
		for _, member := range ids[1:] {
			spec, err := e.Repo.Load(member)
			if err != nil {
				return nil, err
			}
			if !spec.Status.IsTerminal() {
				return nil, fmt.Errorf("archive %s: member %s is %s: %w", id, member, spec.Status, repo.ErrNotTerminal)
			}
		}
	}
	var paths []string
	for _, target := range ids {
		dest, err := e.Repo.Archive(target, e.now(), force)
		if err != nil {
			return paths, err
		}
		paths = append(paths, dest)
		e.record(ctx, events.TypeSpecArchived, target, actor, events.EventPayload{"path": dest, "forced": force})
	}
	return paths, nil
}

// CleanupStale fails in-progress specs whose worker process is gone and
// removes their PID files. It returns the ids it changed.
func (e Engine) CleanupStale(ctx context.Context, actor string) ([]string, error) {
	stale, err := e.Locks.Stale()
	if err != nil {
		return nil, err
	}
	var cleaned []string
	for _, id := range stale {
		spec, err := e.Repo.Load(id)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			e.releasePID(id)
			continue
		case err != nil:
			return cleaned, err
		}
		if spec.Status == domain.StatusInProgress {
			if err := lifecycle.ForceTransition(spec, domain.StatusFailed); err != nil {
				return cleaned, err
			}
			if err := e.Repo.Save(spec); err != nil {
				return cleaned, err
			}
			e.record(ctx, events.TypeStaleCleaned, id, actor, events.EventPayload{"from": domain.StatusInProgress, "to": domain.StatusFailed})
			e.logger().Info("stale spec failed", "spec", id)
			if err := e.cascade(ctx, spec, actor); err != nil {
				return cleaned, err
			}
			cleaned = append(cleaned, id)
		}
		e.releasePID(id)
	}
	return cleaned, nil
}

// SpecView is a spec with its computed presentation status.
type SpecView struct {
	Spec          *domain.Spec
	DisplayStatus domain.Status
	Title         string
}

// List returns active specs with display statuses.
func (e Engine) List() ([]SpecView, error) {
	snap, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]SpecView, 0, len(snap.Active))
	for _, spec := range snap.Active {
		out = append(out, SpecView{Spec: spec, DisplayStatus: graph.DisplayStatus(spec, snap), Title: spec.Title()})
	}
	return out, nil
}

// Ready returns the specs that can start now.
func (e Engine) Ready() ([]*domain.Spec, error) {
	snap, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	return graph.Ready(snap), nil
}

// Blockers explains why id cannot start.
func (e Engine) Blockers(id string) ([]graph.Blocker, error) {
	snap, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	spec, ok := snap.Get(id)
	if !ok {
		if spec, err = e.Get(id); err != nil {
			return nil, err
		}
	}
	return graph.Blockers(spec, snap), nil
}

// Cycles reports every dependency cycle among active specs.
func (e Engine) Cycles() ([][]string, error) {
	specs, err := e.Repo.List()
	if err != nil {
		return nil, err
	}
	return graph.DetectCycles(specs), nil
}

// Order returns active specs in dependency order.
func (e Engine) Order() ([]string, error) {
	specs, err := e.Repo.List()
	if err != nil {
		return nil, err
	}
	return graph.TopoSort(specs)
}

// Resolve looks up a dependency id, local first.
func (e Engine) Resolve(dep string) (graph.Resolved, error) {
	return e.Resolver().Resolve(dep)
}

// GenerateID returns the next id without creating a file.
func (e Engine) GenerateID() (string, error) {
	return e.nextID("")
}

// RunMergeDriver runs the git merge driver and journals the outcome.
func (e Engine) RunMergeDriver(ctx context.Context, ancestor, ours, theirs, specPath string) (bool, error) {
	clean, err := merge.RunDriver(ancestor, ours, theirs)
	if err != nil {
		return false, err
	}
	specID := ""
	if specPath != "" {
		base := specPath[strings.LastIndexAny(specPath, `/\`)+1:]
		specID = strings.TrimSuffix(base, ".md")
	}
	e.record(ctx, events.TypeMergeReconciled, specID, "merge-driver", events.EventPayload{"clean": clean, "path": specPath})
	if !clean {
		e.logger().Warn("merge left conflict markers", "path", specPath)
	}
	return clean, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
