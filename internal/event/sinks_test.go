package event

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/internal/model"
	"signalbridge/pkg/recorder"
)

type fakeSender struct {
	subjects []string
	bodies   []string
}

func (f *fakeSender) Send(subject, body string) error {
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func TestAlertSink_OnlyProblemOutcomes(t *testing.T) {
	sender := &fakeSender{}
	sink := AlertSink(sender)
	ctx := context.Background()

	sink(ctx, model.OrchestrationResult{Symbol: "NQ", Outcome: model.OutcomeAccepted})
	sink(ctx, model.OrchestrationResult{Symbol: "NQ", Outcome: model.OutcomeDuplicate})
	assert.Empty(t, sender.subjects)

	sink(ctx, model.OrchestrationResult{
		RunID:            "42",
		Symbol:           "NQ",
		Direction:        model.Sell,
		Outcome:          model.OutcomeLiquidationIncomplete,
		ResidualExposure: true,
		Flatten:          &model.FlattenResult{FinalState: "Failed", AttemptsUsed: 3, FinalNetQuantity: 2, Detail: "1 position(s) still open"},
		Bracket:          &model.BracketResult{Accepted: true, OrderIDs: []int64{1, 2, 3}},
	})
	sink(ctx, model.OrchestrationResult{Symbol: "ES", Outcome: model.OutcomeBracketRejected,
		Bracket: &model.BracketResult{Reason: "leg 2 rejected"}})

	require.Len(t, sender.subjects, 2)
	assert.Equal(t, "[signalbridge] liquidation_incomplete NQ Sell", sender.subjects[0])
	assert.Contains(t, sender.bodies[0], "final_net_quantity=2")
	assert.Contains(t, sender.bodies[1], "leg 2 rejected")
}

func TestJournalSink_WritesResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	JournalSink(recorder.NewJSONFileRecorder(path))(context.Background(),
		model.OrchestrationResult{RunID: "7", Outcome: model.OutcomeAccepted})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"7"`)
}
