package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

const (
	// DefaultLogAdds is the progress logging interval in records.
	DefaultLogAdds = 50000

	// MaxForwardDepth bounds recursive forwarding between actions.
	MaxForwardDepth = 32
)

// Sentinel keys sent around items and datasource runs.
const (
	KeyItemStart       = "_item/_start"
	KeyItemStop        = "_item/_stop"
	KeyDatasourceStart = "_datasource/_start"
	KeyDatasourceStop  = "_datasource/_stop"
)

// Context is the state of one datasource run. It is used by a single
// goroutine at a time and discarded when the run stops.
type Context struct {
	ctx context.Context

	Pipeline        *Pipeline
	DatasourceName  string
	DefaultEndpoint string

	ImportFlags  ImportFlags
	ActionFlags  ActionFlags
	ErrorState   ErrorState
	Action       Action
	SkipUntilKey string
	LastError    error

	Added, Deleted, Skipped, Emitted, Errors int

	LogAdds  int
	MaxAdds  int
	MaxEmits int

	logger       logger.ILogger
	forwardDepth int
	started      time.Time

	itemStartPending bool
	itemStartValue   model.Value
}

// NewContext creates the context for a run of the named datasource with
// default limits: progress every DefaultLogAdds records, no maximums.
func NewContext(ctx context.Context, datasource string, log logger.ILogger) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		ctx:            ctx,
		DatasourceName: datasource,
		LogAdds:        DefaultLogAdds,
		MaxAdds:        -1,
		MaxEmits:       -1,
		logger:         log.SubLogger(datasource),
		started:        time.Now(),
	}
}

// Context returns the context.Context for blocking endpoint and datasource calls.
func (c *Context) Context() context.Context { return c.ctx }

// Logger returns the run logger.
func (c *Context) Logger() logger.ILogger { return c.logger }

// SetAction makes a the current action and resets Skip. Every action
// except the no-op marks the event as handled.
func (c *Context) SetAction(a Action) Action {
	c.ActionFlags &^= Skip
	if _, nop := a.(*nopAction); !nop {
		c.ActionFlags |= Handled
	}
	c.Action = a
	return a
}

// ClearAllAndSetFlags abandons the current record: the current action's
// accumulator and all variables are cleared, flags are raised and an
// optional skip-until key is set.
func (c *Context) ClearAllAndSetFlags(flags ActionFlags, skipUntil string) {
	c.ActionFlags |= flags
	if c.Action != nil {
		if ep := c.Action.Endpoint(); ep != nil {
			ep.Clear()
		}
	}
	if c.Pipeline != nil {
		c.Pipeline.ClearAllVariables()
	}
	c.SkipUntilKey = skipUntil
}

// HandleException routes err through the pipeline as prefix/_error events
// so error handler actions can react. It reports whether any action
// handled the error. Unhandled errors are returned as a RecordError when
// strict is set. Limit signals are never handled and always returned.
func (c *Context) HandleException(err error, prefix string, strict bool) (bool, error) {
	if IsLimitExceeded(err) {
		return false, err
	}
	c.Errors++
	c.LastError = err

	pfx := "_error"
	if prefix != "" {
		pfx = prefix + "/_error"
	}

	skipUntil := c.SkipUntilKey
	c.SkipUntilKey = ""

	events := []struct {
		key string
		v   model.Value
	}{
		{pfx + "/date", model.Time(time.Now().UTC())},
		{pfx + "/msg", model.String(err.Error())},
		{pfx + "/trace", model.String(fmt.Sprintf("%+v", err))},
		{pfx, model.Opaque(err)},
	}
	handled := false
	for _, ev := range events {
		if _, herr := c.Pipeline.HandleValue(c, ev.key, ev.v); herr != nil {
			return handled, herr
		}
		if c.ActionFlags&Handled != 0 {
			handled = true
		}
	}
	if c.SkipUntilKey == "" {
		c.SkipUntilKey = skipUntil
	}

	if !handled && strict {
		return false, &RecordError{Err: err}
	}
	return handled, nil
}

// IncrementEmitted counts an emitted record, failing with a
// LimitExceededError once MaxEmits records were emitted.
func (c *Context) IncrementEmitted() error {
	if c.MaxEmits >= 0 && c.Emitted >= c.MaxEmits {
		c.logger.Infof("max emits exceeded: %s", c.Stats())
		return &LimitExceededError{What: "emits", Limit: c.MaxEmits}
	}
	c.Emitted++
	if c.LogAdds > 0 && c.Emitted%c.LogAdds == 0 && c.Added == 0 {
		c.logger.Infof("emitted %d records", c.Emitted)
	}
	return nil
}

// IncrementAndLogAdd counts an added record and logs progress every
// LogAdds records. It fails with a LimitExceededError once MaxAdds records
// were added.
func (c *Context) IncrementAndLogAdd() error {
	if c.MaxAdds >= 0 && c.Added >= c.MaxAdds {
		c.logger.Infof("max adds exceeded: %s", c.Stats())
		return &LimitExceededError{What: "adds", Limit: c.MaxAdds}
	}
	c.Added++
	switch {
	case c.Added == 1:
		c.logger.Info("added 1 record")
	case c.LogAdds > 0 && c.Added%c.LogAdds == 0:
		c.logger.Infof("added %d records (emitted: %d, errors: %d, elapsed: %s)",
			c.Added, c.Emitted, c.Errors, time.Since(c.started).Round(time.Millisecond))
	}
	return nil
}

// IncrementDeleted counts a deleted record.
func (c *Context) IncrementDeleted() { c.Deleted++ }

// LogLastAdd logs the final add count of the run.
func (c *Context) LogLastAdd() {
	if c.Added == 0 {
		c.logger.Info("no records were added")
		return
	}
	c.logger.Infof("added %d records in %s", c.Added, time.Since(c.started).Round(time.Millisecond))
}

// Stats renders the counters.
func (c *Context) Stats() string {
	return fmt.Sprintf("added=%d, emitted=%d, errors=%d, deleted=%d, skipped=%d",
		c.Added, c.Emitted, c.Errors, c.Deleted, c.Skipped)
}

// SendItemStart dispatches the item start sentinel.
func (c *Context) SendItemStart(v model.Value) (model.Value, error) {
	c.itemStartPending = true
	c.itemStartValue = v
	return c.Pipeline.HandleValue(c, KeyItemStart, v)
}

// SendFileItemStart dispatches the item start sentinel for a file followed
// by its name, relative name and modification time.
func (c *Context) SendFileItemStart(fullName, relName string, modTime time.Time) error {
	if _, err := c.SendItemStart(model.String(fullName)); err != nil {
		return err
	}
	if c.ActionFlags&SkipAll != 0 {
		return nil
	}
	events := []struct {
		key string
		v   model.Value
	}{
		{"_item/lastmodutc", model.Time(modTime.UTC())},
		{"_item/filename", model.String(fullName)},
		{"_item/virtualfilename", model.String(relName)},
	}
	for _, ev := range events {
		if _, err := c.Pipeline.HandleValue(c, ev.key, ev.v); err != nil {
			return err
		}
	}
	return nil
}

// SendItemStop dispatches the item stop sentinel with the start value.
func (c *Context) SendItemStop() (model.Value, error) {
	v := c.itemStartValue
	c.itemStartPending = false
	c.itemStartValue = model.Null()
	return c.Pipeline.HandleValue(c, KeyItemStop, v)
}

// OptSendItemStop sends the item stop sentinel if a start is pending.
func (c *Context) OptSendItemStop() error {
	if !c.itemStartPending {
		return nil
	}
	_, err := c.SendItemStop()
	return err
}

// Variable implements converter.Context.
func (c *Context) Variable(name string) model.Value {
	if c.Pipeline == nil {
		return model.Null()
	}
	return c.Pipeline.Variable(name)
}

// Field implements converter.Context: it reads from the current action's
// accumulator.
func (c *Context) Field(name string) model.Value {
	if c.Action == nil {
		return model.Null()
	}
	ep := c.Action.Endpoint()
	if ep == nil {
		return model.Null()
	}
	return ep.GetField(name)
}
