package index

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"annotex/internal/ner"
)

// Document is a stored piece of text together with the entity sub-fields
// extracted from it. SubFields keys have the form "<field>.<type>".
type Document struct {
	ID        string              `json:"id"`
	Field     string              `json:"field"`
	Content   string              `json:"content"`
	SubFields map[string][]string `json:"sub_fields"`
	CreatedAt time.Time           `json:"created_at"`
}

// Entities returns the values of one entity type.
func (d Document) Entities(entityType string) []string {
	return d.SubFields[SubFieldKey(d.Field, entityType)]
}

func SubFieldKey(field, entityType string) string {
	return field + "." + entityType
}

// SplitSubFieldKey reverses SubFieldKey. Field names may contain dots; the
// entity type never does.
func SplitSubFieldKey(key string) (field, entityType string, ok bool) {
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

var ErrInvalidField = errors.New("invalid field name")

type Annotator interface {
	Annotate(ctx context.Context, text string) (ner.Entities, error)
}

// Mapper builds documents by annotating their content.
type Mapper struct {
	annotator    Annotator
	defaultField string
	now          func() time.Time
}

func NewMapper(annotator Annotator, defaultField string) *Mapper {
	if defaultField == "" {
		defaultField = "body"
	}
	return &Mapper{annotator: annotator, defaultField: defaultField, now: time.Now}
}

func (m *Mapper) DefaultField() string { return m.defaultField }

// Map annotates content and returns a new document. An empty field means the
// mapper's default field. Types without entities get no sub-field.
func (m *Mapper) Map(ctx context.Context, field, content string) (Document, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		field = m.defaultField
	}
	if strings.ContainsAny(field, " \t\n") {
		return Document{}, errors.Wrapf(ErrInvalidField, "%q", field)
	}
	entities, err := m.annotator.Annotate(ctx, content)
	if err != nil {
		return Document{}, errors.Wrap(err, "annotate")
	}
	doc := Document{
		ID:        uuid.NewString(),
		Field:     field,
		Content:   content,
		SubFields: make(map[string][]string, len(entities)),
		CreatedAt: m.now().UTC(),
	}
	for typ, values := range entities {
		if len(values) == 0 {
			continue
		}
		doc.SubFields[SubFieldKey(field, typ)] = values.Sorted()
	}
	return doc, nil
}
