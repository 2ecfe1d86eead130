package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/interfaces"
)

// IMAPSource fetches a supplier catalog mailed as a CSV attachment. The
// newest unread message matching the subject filter wins; its attachment
// is parsed once and cached so chunk replays see a stable dataset.
type IMAPSource struct {
	config        *common.IMAPConfig
	subjectFilter string
	delimiter     rune
	logger        arbor.ILogger

	records []interfaces.SourceRecord
	loaded  bool
}

func NewIMAPSource(logger arbor.ILogger, cfg *common.IMAPConfig, options map[string]string) *IMAPSource {
	delim := ','
	if d := options["delimiter"]; d != "" {
		delim = rune(d[0])
	}
	return &IMAPSource{
		config:        cfg,
		subjectFilter: options["subject"],
		delimiter:     delim,
		logger:        logger.WithPrefix("imap"),
	}
}

func (s *IMAPSource) Count(ctx context.Context) (int, error) {
	if err := s.load(ctx); err != nil {
		return 0, err
	}
	return len(s.records), nil
}

func (s *IMAPSource) ReadChunk(ctx context.Context, offset, limit int) ([]interfaces.SourceRecord, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	if offset < 0 || offset >= len(s.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	return s.records[offset:end], nil
}

func (s *IMAPSource) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	if s.config.Host == "" || s.config.Username == "" || s.config.Password == "" {
		return fmt.Errorf("IMAP source is not configured")
	}

	attachment, err := s.fetchLatestAttachment(ctx)
	if err != nil {
		return err
	}
	if attachment == nil {
		return fmt.Errorf("no unread message with a CSV attachment matched subject filter %q", s.subjectFilter)
	}

	records, err := ParseCatalogCSV(bytes.NewReader(attachment), s.delimiter)
	if err != nil {
		return fmt.Errorf("failed to parse mailed catalog: %w", err)
	}
	s.records = records
	s.loaded = true

	s.logger.Info().
		Int("records", len(records)).
		Str("subject_filter", s.subjectFilter).
		Msg("Catalog loaded from mailbox")
	return nil
}

// fetchLatestAttachment scans unread INBOX messages for a CSV attachment
func (s *IMAPSource) fetchLatestAttachment(ctx context.Context) ([]byte, error) {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var c *client.Client
	var err error
	if s.config.UseTLS {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(s.config.Username, s.config.Password); err != nil {
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}

	mailbox := s.config.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	mbox, err := c.Select(mailbox, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", mailbox, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search for unseen messages: %w", err)
	}
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	messages := make(chan *imap.Message, len(seqNums))
	section := &imap.BodySectionName{}

	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	var latest []byte
	for msg := range messages {
		if msg == nil {
			continue
		}
		subject := msg.Envelope.Subject
		if s.subjectFilter != "" && !strings.Contains(strings.ToLower(subject), strings.ToLower(s.subjectFilter)) {
			continue
		}
		data, err := extractCSVAttachment(msg, section)
		if err != nil {
			s.logger.Warn().Err(err).Int64("seq", int64(msg.SeqNum)).Msg("Failed to extract attachment")
			continue
		}
		if data != nil {
			// Fetch delivers in ascending sequence order; the last hit is newest
			latest = data
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return latest, nil
}

// extractCSVAttachment pulls the first CSV attachment from a message
func extractCSVAttachment(msg *imap.Message, section *imap.BodySectionName) ([]byte, error) {
	r := msg.GetBody(section)
	if r == nil {
		return nil, fmt.Errorf("no body section")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail reader: %w", err)
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
				continue
			}
			data, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment %s: %w", filename, err)
			}
			return data, nil
		}
	}
	return nil, nil
}
