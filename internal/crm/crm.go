// Package crm hands quote summaries to the CRM sync pipeline over Kafka.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"freightquote/internal/quote"
	"freightquote/internal/rate"
)

const (
	DefaultTopic = "quotes.crm"
	DefaultTopN  = 3

	publishTimeout = 10 * time.Second
)

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Summary is the note the CRM side attaches to the client's contact.
type Summary struct {
	QuoteID     string          `json:"quote_id"`
	ClientID    string          `json:"client_id"`
	UserID      string          `json:"user_id"`
	Origin      rate.Location   `json:"origin"`
	Destination rate.Location   `json:"destination"`
	ShipDate    string          `json:"ship_date"`
	Modes       []rate.Mode     `json:"modes"`
	Lines       int             `json:"lines"`
	TotalWeight float64         `json:"total_weight"`
	WeightUnit  string          `json:"weight_unit"`
	Hazmat      bool            `json:"hazmat"`
	RateCount   int             `json:"rate_count"`
	TopRates    []SummaryRate   `json:"top_rates"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	QuotedAt    time.Time       `json:"quoted_at"`
}

type SummaryRate struct {
	RateRef     string    `json:"rate_ref"`
	CarrierName string    `json:"carrier_name"`
	ServiceName string    `json:"service_name"`
	Mode        rate.Mode `json:"mode,omitempty"`
	TransitDays *int      `json:"transit_days"`
	TotalCost   float64   `json:"total_cost"`
	Currency    string    `json:"currency"`
}

// BuildSummary condenses q into its lane, shipment highlights and the
// cheapest topN rates. Weights are reported in pounds.
func BuildSummary(q quote.Quote, topN int) Summary {
	if topN <= 0 {
		topN = DefaultTopN
	}
	req := q.Request
	s := Summary{
		QuoteID:     req.ID.String(),
		ClientID:    req.ClientID,
		UserID:      req.UserID,
		Origin:      req.Origin,
		Destination: req.Destination,
		ShipDate:    req.ShipDate.Format("2006-01-02"),
		Modes:       req.Modes,
		Lines:       len(req.Lines),
		WeightUnit:  rate.DefaultWeightUnit,
		RateCount:   len(q.Rates),
		Raw:         req.Raw,
		QuotedAt:    req.CreatedAt,
	}
	for _, l := range req.Lines {
		s.TotalWeight += l.TotalWeightLB()
		s.Hazmat = s.Hazmat || l.Hazmat
	}
	for i, m := range q.Rates {
		if i == topN {
			break
		}
		s.TopRates = append(s.TopRates, SummaryRate{
			RateRef:     m.InternalID.String(),
			CarrierName: m.Rate.CarrierName,
			ServiceName: m.Rate.ServiceName,
			Mode:        m.Rate.Mode,
			TransitDays: m.Rate.TransitDays,
			TotalCost:   m.Rate.TotalCost,
			Currency:    m.Rate.Currency,
		})
	}
	return s
}

// Publisher writes summaries to a Kafka topic off the request path.
type Publisher struct {
	writer Writer
	topN   int
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewPublisher returns a publisher writing to topic on broker.
func NewPublisher(broker, topic string, topN int, logger *slog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return NewPublisherWithWriter(w, topN, logger)
}

// NewPublisherWithWriter allows injecting a test writer.
func NewPublisherWithWriter(w Writer, topN int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{writer: w, topN: topN, logger: logger}
}

// Publish writes the summary of q keyed by quote id, so every message for a
// quote lands on the same partition.
func (p *Publisher) Publish(ctx context.Context, q quote.Quote) error {
	s := BuildSummary(q, p.topN)
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal crm summary: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(s.QuoteID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "client_id", Value: []byte(s.ClientID)},
			{Key: "event", Value: []byte("quote.created")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write crm summary: %w", err)
	}
	return nil
}

// Handoff publishes in the background. Failures are logged and never
// reach the caller.
func (p *Publisher) Handoff(q quote.Quote) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, q); err != nil {
			p.logger.Warn("crm handoff failed",
				"quote_id", q.Request.ID,
				"client_id", q.Request.ClientID,
				"error", err)
		}
	}()
}

// Close waits for pending handoffs and closes the writer.
func (p *Publisher) Close() error {
	p.wg.Wait()
	return p.writer.Close()
}
