package seeder

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/leadpulse/leadpulse/cdc/internal/models"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
)

// Channels the generated events are published on.
const (
	LeadChannel  = "/data/LeadChangeEvent"
	TaskChannel  = "/data/TaskChangeEvent"
	EmailChannel = "/data/EmailMessageChangeEvent"
)

// Record key prefixes.
const (
	leadPrefix  = "00Q"
	taskPrefix  = "00T"
	emailPrefix = "02s"
	userPrefix  = "005"
	queuePrefix = "00G"
)

var (
	leadSources = []string{"Web", "Partner Referral", "Trade Show", "Inbound Call", "Webinar"}
	taskTypes   = []string{"Call", "Email", "Meeting"}
)

// Scenario is one lead with its responses. Records mirror the envelopes so
// the in-memory backend sees the same state the events describe.
type Scenario struct {
	Envelopes []*models.Envelope
	Records   map[string][]salesforce.Record
}

// Generator produces lead scenarios. A fixed seed yields the same scenarios.
type Generator struct {
	faker *gofakeit.Faker
	cfg   DefaultsConfig
	now   time.Time
	users []string
	queue string
}

// NewGenerator builds a generator. A zero seed picks a random one.
func NewGenerator(cfg DefaultsConfig, now time.Time) *Generator {
	faker := gofakeit.New(cfg.Seed)
	g := &Generator{faker: faker, cfg: cfg, now: now}
	g.queue = g.id(queuePrefix)
	for i := 0; i < 8; i++ {
		g.users = append(g.users, g.id(userPrefix))
	}
	return g
}

func (g *Generator) id(prefix string) string {
	return prefix + g.faker.Regex("[a-zA-Z0-9]{12}")
}

// createdAt places lead index of total across the time spread, oldest first,
// with up to 40% jitter of the spacing.
func (g *Generator) createdAt(index, total int) time.Time {
	spread := g.cfg.TimeSpread
	if spread <= 0 || total <= 0 {
		return g.now
	}
	base := float64(spread) / float64(total)
	offset := time.Duration(float64(index)*base + (g.faker.Float64Range(-1, 1) * base * 0.4))
	if offset < 0 {
		offset = 0
	}
	if offset > spread {
		offset = spread
	}
	return g.now.Add(-(spread - offset)).Truncate(time.Millisecond)
}

// Scenario generates lead index of total.
func (g *Generator) Scenario(index, total int) Scenario {
	created := g.createdAt(index, total)
	leadID := g.id(leadPrefix)

	lead := salesforce.Record{
		"Id":                leadID,
		"Company":           g.faker.Company(),
		"FirstName":         g.faker.FirstName(),
		"LastName":          g.faker.LastName(),
		"Email":             g.faker.Email(),
		"Country":           g.faker.CountryAbr(),
		"NumberOfEmployees": g.faker.Number(1, 20000),
		"LeadSource":        g.faker.RandomString(leadSources),
		"OwnerId":           g.queue,
		"CreatedDate":       salesforce.FormatTime(created),
		"SystemModstamp":    salesforce.FormatTime(created),
	}

	sc := Scenario{Records: map[string][]salesforce.Record{"Lead": {lead}}}
	sc.Envelopes = append(sc.Envelopes, g.envelope(LeadChannel, "Lead", leadID, created, lead))

	if g.chance() >= g.cfg.ResponseRate {
		return sc
	}

	responses := g.faker.Number(1, 3)
	for i := 0; i < responses; i++ {
		at := created.Add(g.delay())
		if at.After(g.now) {
			continue
		}
		user := g.faker.RandomString(g.users)
		if g.chance() < g.cfg.EmailShare {
			rec := g.email(leadID, user, at)
			sc.Records["EmailMessage"] = append(sc.Records["EmailMessage"], rec)
			sc.Envelopes = append(sc.Envelopes, g.envelope(EmailChannel, "EmailMessage", rec.ID(), at, rec))
		} else {
			rec := g.task(leadID, user, at)
			sc.Records["Task"] = append(sc.Records["Task"], rec)
			sc.Envelopes = append(sc.Envelopes, g.envelope(TaskChannel, "Task", rec.ID(), at, rec))
		}
	}
	return sc
}

// chance draws uniformly from [0,1). Faker.Float64 spans the whole float64
// range and cannot be compared against a rate.
func (g *Generator) chance() float64 {
	return g.faker.Float64Range(0, 1)
}

func (g *Generator) delay() time.Duration {
	max := int(g.cfg.MaxResponseDelay / time.Second)
	if max < 60 {
		max = 60
	}
	return time.Duration(g.faker.Number(60, max)) * time.Second
}

func (g *Generator) task(leadID, user string, at time.Time) salesforce.Record {
	ts := salesforce.FormatTime(at)
	return salesforce.Record{
		"Id":                g.id(taskPrefix),
		"WhoId":             leadID,
		"OwnerId":           user,
		"Type":              g.faker.RandomString(taskTypes),
		"Status":            "Completed",
		"Subject":           g.faker.HipsterSentence(4),
		"CompletedDateTime": ts,
		"CreatedDate":       ts,
		"LastModifiedDate":  ts,
		"SystemModstamp":    ts,
	}
}

func (g *Generator) email(leadID, user string, at time.Time) salesforce.Record {
	ts := salesforce.FormatTime(at)
	return salesforce.Record{
		"Id":             g.id(emailPrefix),
		"RelatedToId":    leadID,
		"CreatedById":    user,
		"FromAddress":    g.faker.Email(),
		"Subject":        fmt.Sprintf("Re: %s", g.faker.BuzzWord()),
		"Incoming":       false,
		"MessageDate":    ts,
		"CreatedDate":    ts,
		"SystemModstamp": ts,
	}
}

func (g *Generator) envelope(channel, entity, id string, at time.Time, rec salesforce.Record) *models.Envelope {
	payload := make(map[string]any, len(rec))
	for k, v := range rec {
		if k != "Id" && v != nil {
			payload[k] = v
		}
	}
	return &models.Envelope{
		Channel:         channel,
		ChangeType:      models.ChangeCreate,
		EntityName:      entity,
		RecordIDs:       []string{id},
		CommitTimestamp: at.UnixMilli(),
		Payload:         payload,
	}
}
