package orchestrator

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ctagard/dap-orchestrator/pkg/types"
)

// RetentionPolicy decides how long a terminated session stays queryable.
type RetentionPolicy struct {
	CleanExit time.Duration
	Crash     time.Duration
}

// Delay returns the purge delay for a session that ended with exitCode.
// An unknown exit code counts as clean.
func (p RetentionPolicy) Delay(exitCode *int) time.Duration {
	if exitCode != nil && *exitCode != 0 {
		return p.Crash
	}
	return p.CleanExit
}

// LaunchMeta is what the caller launched, kept for status reports
type LaunchMeta struct {
	Language types.Language
	File     string
	Module   string
	Args     []string
	Env      map[string]string
	Cwd      string
}

// Record accumulates everything observed about one debuggee.
type Record struct {
	handle string
	meta   LaunchMeta
	start  time.Time

	mu          sync.Mutex
	pid         int
	pidReady    chan struct{}
	stdout      []string
	stderr      []string
	exitCode    *int
	terminated  bool
	termination time.Time
	done        chan struct{}
	diagnostics []string
	backendID   int
	purge       *clock.Timer
}

func newRecord(handle string, meta LaunchMeta, start time.Time) *Record {
	return &Record{
		handle:   handle,
		meta:     meta,
		start:    start,
		pidReady: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Handle returns the session handle
func (r *Record) Handle() string {
	return r.handle
}

// SetPID records the debuggee pid. Only the first call has an effect.
func (r *Record) SetPID(pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pid != 0 || pid <= 0 {
		return false
	}
	r.pid = pid
	close(r.pidReady)
	return true
}

// PIDReady is closed once the pid is known.
func (r *Record) PIDReady() <-chan struct{} {
	return r.pidReady
}

// Done is closed once the session has terminated.
func (r *Record) Done() <-chan struct{} {
	return r.done
}

// AppendStdout appends a raw stdout fragment
func (r *Record) AppendStdout(text string) {
	r.mu.Lock()
	r.stdout = append(r.stdout, text)
	r.mu.Unlock()
}

// AppendStderr appends a raw stderr fragment
func (r *Record) AppendStderr(text string) {
	r.mu.Lock()
	r.stderr = append(r.stderr, text)
	r.mu.Unlock()
}

// AddDiagnostic appends an operator-facing line
func (r *Record) AddDiagnostic(line string) {
	r.mu.Lock()
	r.diagnostics = append(r.diagnostics, line)
	r.mu.Unlock()
}

// SetExitCode records the exit code. Only the first call has an effect.
func (r *Record) SetExitCode(code int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exitCode != nil {
		return false
	}
	r.exitCode = &code
	return true
}

// MarkTerminated flips the terminated flag. It reports true only for the
// call that performed the flip.
func (r *Record) MarkTerminated(at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return false
	}
	r.terminated = true
	r.termination = at
	close(r.done)
	return true
}

// Terminated reports whether the terminated event has been seen
func (r *Record) Terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

// SetBackendID binds the record to a backend session
func (r *Record) SetBackendID(id int) {
	r.mu.Lock()
	r.backendID = id
	r.mu.Unlock()
}

// BackendID returns the bound backend session id, 0 if unbound
func (r *Record) BackendID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backendID
}

// Snapshot is a consistent copy of a record's state
type Snapshot struct {
	Handle          string
	Meta            LaunchMeta
	PID             int
	Stdout          string
	Stderr          string
	ExitCode        *int
	Terminated      bool
	StartTime       time.Time
	TerminationTime time.Time
	Diagnostics     []string
	BackendID       int
}

// Snapshot copies the record under its lock. Output fragments are joined in
// arrival order.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Handle:          r.handle,
		Meta:            r.meta,
		PID:             r.pid,
		Stdout:          strings.Join(r.stdout, ""),
		Stderr:          strings.Join(r.stderr, ""),
		Terminated:      r.terminated,
		StartTime:       r.start,
		TerminationTime: r.termination,
		Diagnostics:     append([]string(nil), r.diagnostics...),
		BackendID:       r.backendID,
	}
	if r.exitCode != nil {
		code := *r.exitCode
		s.ExitCode = &code
	}
	return s
}

// Registry owns every retained session record and its purge timer.
type Registry struct {
	mu        sync.RWMutex
	records   map[string]*Record
	clock     clock.Clock
	retention RetentionPolicy
	log       *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(clk clock.Clock, retention RetentionPolicy, log *zap.Logger) *Registry {
	return &Registry{
		records:   make(map[string]*Record),
		clock:     clk,
		retention: retention,
		log:       log,
	}
}

// Retention returns the registry's retention policy
func (g *Registry) Retention() RetentionPolicy {
	return g.retention
}

// Create adds a record for a new launch
func (g *Registry) Create(handle string, meta LaunchMeta) *Record {
	rec := newRecord(handle, meta, g.clock.Now())

	g.mu.Lock()
	g.records[handle] = rec
	g.mu.Unlock()
	return rec
}

// Get looks up a record by handle
func (g *Registry) Get(handle string) (*Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[handle]
	return rec, ok
}

// Live returns the record bound to the given backend session, if any.
func (g *Registry) Live(backendID int) (*Record, bool) {
	if backendID == 0 {
		return nil, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return lo.Find(lo.Values(g.records), func(rec *Record) bool {
		return !rec.Terminated() && rec.BackendID() == backendID
	})
}

// Handles lists retained handles, oldest first
func (g *Registry) Handles() []string {
	g.mu.RLock()
	recs := lo.Values(g.records)
	g.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].start.Equal(recs[j].start) {
			return recs[i].handle < recs[j].handle
		}
		return recs[i].start.Before(recs[j].start)
	})
	return lo.Map(recs, func(rec *Record, _ int) string { return rec.handle })
}

// Remove deletes a record immediately, cancelling any pending purge.
func (g *Registry) Remove(handle string) {
	g.mu.Lock()
	rec, ok := g.records[handle]
	delete(g.records, handle)
	g.mu.Unlock()

	if ok {
		rec.cancelPurge()
	}
}

// SchedulePurge arms the retention timer for a terminated record. Later
// calls for the same record are ignored.
func (g *Registry) SchedulePurge(rec *Record) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.purge != nil {
		return
	}

	delay := g.retention.Delay(rec.exitCode)
	rec.purge = g.clock.AfterFunc(delay, func() { g.purge(rec) })
	g.log.Debug("purge scheduled",
		zap.String("session", rec.handle),
		zap.Duration("delay", delay))
}

// purge drops rec if it is still the record stored under its handle.
func (g *Registry) purge(rec *Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.records[rec.handle] != rec {
		return
	}
	delete(g.records, rec.handle)
	g.log.Debug("session purged", zap.String("session", rec.handle))
}

func (r *Record) cancelPurge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.purge != nil {
		r.purge.Stop()
	}
}

// Close cancels every pending purge and forgets all records
func (g *Registry) Close() {
	g.mu.Lock()
	recs := lo.Values(g.records)
	g.records = make(map[string]*Record)
	g.mu.Unlock()

	for _, rec := range recs {
		rec.cancelPurge()
	}
}
