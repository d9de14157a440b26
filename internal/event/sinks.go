package event

import (
	"context"
	"fmt"
	"strings"

	"signalbridge/internal/model"
	"signalbridge/pkg/kafka"
	"signalbridge/pkg/logger"
	"signalbridge/pkg/recorder"
)

// KafkaSink 结果写入 kafka，按 symbol 分区
func KafkaSink(p kafka.ProducerService) Subscriber {
	return func(ctx context.Context, r model.OrchestrationResult) {
		if err := p.Produce(ctx, r.Symbol, r); err != nil {
			logger.Warn("produce result to kafka failed", logger.Pair("runId", r.RunID), logger.Pair("err", err))
		}
	}
}

// JournalSink 结果追加到本地 jsonl
func JournalSink(rec *recorder.JSONFileRecorder) Subscriber {
	return func(_ context.Context, r model.OrchestrationResult) {
		if err := rec.Record(r); err != nil {
			logger.Warn("journal result failed", logger.Pair("path", rec.Path), logger.Pair("err", err))
		}
	}
}

// AlertSender 告警通道
type AlertSender interface {
	Send(subject, body string) error
}

// AlertSink 残留敞口或联动单被拒时发送告警，其余结果忽略
func AlertSink(sender AlertSender) Subscriber {
	return func(_ context.Context, r model.OrchestrationResult) {
		if !r.ResidualExposure && r.Outcome != model.OutcomeBracketRejected {
			return
		}
		subject, body := alertMessage(r)
		if err := sender.Send(subject, body); err != nil {
			logger.Error("send alert failed", logger.Pair("runId", r.RunID), logger.Pair("err", err))
		}
	}
}

func alertMessage(r model.OrchestrationResult) (string, string) {
	subject := fmt.Sprintf("[signalbridge] %s %s %s", r.Outcome, r.Symbol, r.Direction)

	var b strings.Builder
	fmt.Fprintf(&b, "run: %s\nsymbol: %s\ndirection: %s\nconfig: %s\noutcome: %s\n",
		r.RunID, r.Symbol, r.Direction, r.ConfigID, r.Outcome)
	if f := r.Flatten; f != nil {
		fmt.Fprintf(&b, "flatten: state=%s attempts=%d final_net_quantity=%d orders=%d\n",
			f.FinalState, f.AttemptsUsed, f.FinalNetQuantity, f.OrdersIssued)
		if f.Detail != "" {
			fmt.Fprintf(&b, "flatten detail: %s\n", f.Detail)
		}
	}
	if br := r.Bracket; br != nil {
		fmt.Fprintf(&b, "bracket: accepted=%t order_ids=%v rolled_back=%v\n", br.Accepted, br.OrderIDs, br.RolledBack)
		if br.Reason != "" {
			fmt.Fprintf(&b, "bracket reason: %s\n", br.Reason)
		}
	}
	fmt.Fprintf(&b, "completed at: %s\n", r.CompletedAt.Format("2006-01-02 15:04:05.000"))
	return subject, b.String()
}
