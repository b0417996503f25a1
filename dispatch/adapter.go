package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/voicepipe/voicepipe/blob"
	"github.com/voicepipe/voicepipe/errors"
)

// StageAdapter is the contract between the worker runtime and an external
// model runtime (ASR, diarization, TTS, ...). The runtime decodes the input
// payload, hands it to Process together with a progress sink, and records
// whatever Process returns as the job's terminal state.
//
// Adapters own their model resources. Heavy models should load on first use
// and stay resident for the life of the process; the runtime never
// initializes or tears down GPU state. Process must honor ctx cancellation
// at its own suspension points.
type StageAdapter interface {
	// Types lists the job types this adapter accepts, in the order the
	// worker should scan their queues.
	Types() []JobType

	// Process runs one job and returns a JSON-serializable output. An error
	// return records the job as FAILED with the stringified message.
	Process(ctx context.Context, job *Job, input InputData, sink ProgressSink) (any, error)
}

// Toolkit bundles the shared clients the runtime lends to adapters.
type Toolkit struct {
	Blob   blob.Store
	Logger *zap.SugaredLogger
}

// adapterRegistry routes job types to the single adapter that handles them.
type adapterRegistry struct {
	byType map[JobType]StageAdapter
	order  []JobType
}

func newAdapterRegistry(adapters ...StageAdapter) (*adapterRegistry, error) {
	r := &adapterRegistry{byType: make(map[JobType]StageAdapter)}
	for _, a := range adapters {
		for _, t := range a.Types() {
			if _, exists := r.byType[t]; exists {
				return nil, errors.Newf("adapter already registered for job type %s", t)
			}
			r.byType[t] = a
			r.order = append(r.order, t)
		}
	}
	if len(r.order) == 0 {
		return nil, errors.New("no adapters registered")
	}
	return r, nil
}

func (r *adapterRegistry) get(t JobType) StageAdapter {
	return r.byType[t]
}

func marshalOutput(out any) (json.RawMessage, error) {
	if out == nil {
		return nil, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal adapter output")
	}
	return data, nil
}
