package itemstore

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
)

// Exec names of the item workloads.
const (
	ReadTest  = "readTest"
	WriteTest = "writeTest"
)

// Custom metrics recorded by the item workloads.
const (
	ReadRequestDurationName  = "read_request_duration"
	WriteRequestDurationName = "write_request_duration"
	ReadFailureRateName      = "read_failure_rate"
	WriteFailureRateName     = "write_failure_rate"
	CacheHitRateName         = "cache_hit_rate"
)

// Check names.
const (
	CheckStatusOK    = "status is 200"
	CheckNameUpdated = "name updated"
)

const updateDescription = "Load test update"

// Register adds readTest and writeTest to catalog. Item ids are drawn
// uniformly from [1, maxItemID].
func Register(catalog *load.Catalog, client *Client, maxItemID int64) error {
	if maxItemID < 1 {
		return fmt.Errorf("maxItemID must be at least 1, got %d", maxItemID)
	}

	w := &workloads{client: client, maxItemID: maxItemID}
	if err := catalog.Register(ReadTest, load.Workload{
		Description: "GET a random item and record whether it came from the cache",
		Declare:     declareRead,
		Run:         w.read,
	}); err != nil {
		return err
	}
	return catalog.Register(WriteTest, load.Workload{
		Description: "PUT a new name on a random item and verify it was applied",
		Declare:     declareWrite,
		Run:         w.write,
	})
}

func declareRead(reg *metrics.Registry) error {
	if _, err := reg.NewMetric(ReadRequestDurationName, metrics.Trend, metrics.Time); err != nil {
		return err
	}
	if _, err := reg.NewMetric(ReadFailureRateName, metrics.Rate); err != nil {
		return err
	}
	_, err := reg.NewMetric(CacheHitRateName, metrics.Rate)
	return err
}

func declareWrite(reg *metrics.Registry) error {
	if _, err := reg.NewMetric(WriteRequestDurationName, metrics.Trend, metrics.Time); err != nil {
		return err
	}
	_, err := reg.NewMetric(WriteFailureRateName, metrics.Rate)
	return err
}

type workloads struct {
	client    *Client
	maxItemID int64
}

func (w *workloads) randomID(it *load.Iteration) int64 {
	return it.Rand().Int64N(w.maxItemID) + 1
}

func (w *workloads) read(ctx context.Context, it *load.Iteration) error {
	id := w.randomID(it)
	resp, err := w.client.Session(it).Get(ctx, id)

	var (
		ok  bool
		hit bool
		d   time.Duration
	)
	if err == nil {
		d = resp.Duration
		ok = resp.OK()
		hit = ok && resp.Source == SourceCache
	}
	it.Check(CheckStatusOK, ok)

	if m, found := it.Registry.Get(ReadRequestDurationName); found && err == nil {
		_ = it.RecordDuration(m, d)
	}
	if m, found := it.Registry.Get(ReadFailureRateName); found {
		_ = it.RecordBool(m, !ok)
	}
	if m, found := it.Registry.Get(CacheHitRateName); found {
		_ = it.RecordBool(m, hit)
	}

	if err != nil {
		return err
	}
	if !ok {
		return &load.CheckError{Check: CheckStatusOK, Detail: fmt.Sprintf("GET item %d returned %d", id, resp.StatusCode)}
	}
	return nil
}

func (w *workloads) write(ctx context.Context, it *load.Iteration) error {
	id := w.randomID(it)
	name := fmt.Sprintf("Item_Updated_by_cacheload_%v", it.Rand().Float64())
	res, err := w.client.Session(it).Update(ctx, id, Item{Name: name, Description: updateDescription})

	var (
		ok      bool
		updated bool
		d       time.Duration
	)
	if err == nil {
		d = res.Duration
		ok = res.OK()
		updated = ok && res.Item != nil && res.Item.Name == name
	}
	it.Check(CheckStatusOK, ok)
	it.Check(CheckNameUpdated, updated)

	if m, found := it.Registry.Get(WriteRequestDurationName); found && err == nil {
		_ = it.RecordDuration(m, d)
	}
	if m, found := it.Registry.Get(WriteFailureRateName); found {
		_ = it.RecordBool(m, !(ok && updated))
	}

	switch {
	case err != nil:
		return err
	case !ok:
		return &load.CheckError{Check: CheckStatusOK, Detail: fmt.Sprintf("PUT item %d returned %d", id, res.StatusCode)}
	case !updated:
		return &load.CheckError{Check: CheckNameUpdated, Detail: fmt.Sprintf("item %d", id)}
	}
	return nil
}
