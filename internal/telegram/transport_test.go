package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jvosloo/afkbridge/internal/observe"
)

type recordingHandler struct {
	texts   []string
	buttons []string
}

func (h *recordingHandler) HandleText(text string) {
	h.texts = append(h.texts, text)
}

func (h *recordingHandler) HandleButton(callbackID, data string, messageID int) {
	h.buttons = append(h.buttons, data)
}

func update(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: text,
			Chat: &tgbotapi.Chat{ID: chatID},
		},
	}
}

func TestDispatchDropsForeignChat(t *testing.T) {
	t.Parallel()

	tr := &Transport{chatID: 42}
	h := &recordingHandler{}

	tr.dispatch(update(42, "hello"), h)
	tr.dispatch(update(99, "intruder"), h)

	if len(h.texts) != 1 || h.texts[0] != "hello" {
		t.Errorf("texts = %v, want [hello]", h.texts)
	}
}

func TestDispatchIgnoresEmptyText(t *testing.T) {
	t.Parallel()

	tr := &Transport{chatID: 42}
	h := &recordingHandler{}

	tr.dispatch(update(42, "   "), h)
	tr.dispatch(update(42, ""), h)

	if len(h.texts) != 0 {
		t.Errorf("texts = %v, want none", h.texts)
	}
}

func TestDispatchCallback(t *testing.T) {
	t.Parallel()

	tr := &Transport{chatID: 42}
	h := &recordingHandler{}

	tr.dispatch(tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb1",
			Data: "yes",
			Message: &tgbotapi.Message{
				MessageID: 7,
				Chat:      &tgbotapi.Chat{ID: 42},
			},
		},
	}, h)

	// Foreign-chat callback is dropped.
	tr.dispatch(tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb2",
			Data: "no",
			Message: &tgbotapi.Message{
				MessageID: 8,
				Chat:      &tgbotapi.Chat{ID: 1},
			},
		},
	}, h)

	if len(h.buttons) != 1 || h.buttons[0] != "yes" {
		t.Errorf("buttons = %v, want [yes]", h.buttons)
	}
}

func TestPollErrorStreakRecordsMetric(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	tr := &Transport{chatID: 42, errorCap: 1, met: met}
	tr.fetch = func(ctx context.Context) ([]tgbotapi.Update, error) {
		return nil, errors.New("network down")
	}

	err = tr.Poll(context.Background(), &recordingHandler{})
	if !errors.Is(err, ErrTooManyPollErrors) {
		t.Fatalf("Poll error = %v, want ErrTooManyPollErrors", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "afkbridge.poll.errors" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("poll.errors data type = %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 1 {
		t.Errorf("poll.errors = %d, want 1", total)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		streak int
		want   time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.streak); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.streak, got, tt.want)
		}
	}
}
