package roles

import (
	"fmt"

	"golang.org/x/text/language"
)

// Metadata is the static description of an enum role.
type Metadata struct {
	Labels         map[string]string `yaml:"labels"`
	Description    string            `yaml:"description"`
	Color          string            `yaml:"color"`
	Category       string            `yaml:"-"`
	Classification Classification    `yaml:"-"`
}

// Label returns the display name for tag, falling back to the base language,
// then English, then the empty string.
func (m Metadata) Label(tag language.Tag) string {
	if l, ok := m.Labels[tag.String()]; ok {
		return l
	}
	base, _ := tag.Base()
	if l, ok := m.Labels[base.String()]; ok {
		return l
	}
	return m.Labels["en"]
}

// MetadataTable maps enum role codes to their metadata.
type MetadataTable map[string]Metadata

var defaultMetadata = MetadataTable{
	RoleAdmin: {
		Labels:         map[string]string{"en": "Administrator", "fr": "Administrateur"},
		Description:    "Full access to the administration application",
		Color:          "#B91C1C",
		Category:       "administration",
		Classification: ClassificationInternal,
	},
	RoleLibrarian: {
		Labels:         map[string]string{"en": "Librarian", "fr": "Bibliothécaire"},
		Description:    "Manages collections and patron requests",
		Color:          "#1D4ED8",
		Category:       "staff",
		Classification: ClassificationInternal,
	},
	RoleArchivist: {
		Labels:         map[string]string{"en": "Archivist", "fr": "Archiviste"},
		Description:    "Manages archival fonds and manuscripts",
		Color:          "#4338CA",
		Category:       "staff",
		Classification: ClassificationInternal,
	},
	RoleCurator: {
		Labels:         map[string]string{"en": "Curator", "fr": "Conservateur"},
		Description:    "Responsible for the scientific management of collections",
		Color:          "#7C3AED",
		Category:       "staff",
		Classification: ClassificationInternal,
	},
	RoleReadingRoomStaff: {
		Labels:         map[string]string{"en": "Reading room staff", "fr": "Personnel de salle de lecture"},
		Description:    "Handles on-site consultation of documents",
		Color:          "#0E7490",
		Category:       "staff",
		Classification: ClassificationInternal,
	},
	RoleConservator: {
		Labels:         map[string]string{"en": "Conservator", "fr": "Restaurateur"},
		Description:    "External specialist handling restoration requests",
		Color:          "#B45309",
		Category:       "professionals",
		Classification: ClassificationProfessional,
	},
	RoleResearcher: {
		Labels:         map[string]string{"en": "Researcher", "fr": "Chercheur"},
		Description:    "Accredited researcher with access to restricted material",
		Color:          "#047857",
		Category:       "professionals",
		Classification: ClassificationProfessional,
	},
	RolePartner: {
		Labels:         map[string]string{"en": "Partner", "fr": "Partenaire"},
		Description:    "Partner institution",
		Color:          "#0F766E",
		Category:       "professionals",
		Classification: ClassificationExternal,
	},
	RoleSubscriber: {
		Labels:         map[string]string{"en": "Subscriber", "fr": "Abonné"},
		Description:    "Holder of a paid subscription",
		Color:          "#CA8A04",
		Category:       "public",
		Classification: ClassificationExternal,
	},
	RoleVisitor: {
		Labels:         map[string]string{"en": "Visitor", "fr": "Visiteur"},
		Description:    "Registered visitor",
		Color:          "#6B7280",
		Category:       "public",
		Classification: ClassificationExternal,
	},
	RolePublicUser: {
		Labels:         map[string]string{"en": "Public user", "fr": "Usager"},
		Description:    "Anonymous or unregistered member of the public",
		Color:          "#9CA3AF",
		Category:       "public",
		Classification: ClassificationExternal,
	},
}

// DefaultMetadata returns a copy of the built-in enum metadata.
func DefaultMetadata() MetadataTable {
	out := make(MetadataTable, len(defaultMetadata))
	for code, m := range defaultMetadata {
		out[code] = m.clone()
	}
	return out
}

func (m Metadata) clone() Metadata {
	labels := make(map[string]string, len(m.Labels))
	for k, v := range m.Labels {
		labels[k] = v
	}
	m.Labels = labels
	return m
}

// WithOverrides returns a copy of t with display fields replaced by the
// non-empty values of overrides. Category and classification are not overridable.
func (t MetadataTable) WithOverrides(overrides map[string]Metadata) (MetadataTable, error) {
	out := make(MetadataTable, len(t))
	for code, m := range t {
		out[code] = m.clone()
	}
	for code, o := range overrides {
		m, ok := out[code]
		if !ok {
			return nil, fmt.Errorf("role %q is not an enum role", code)
		}
		for locale, label := range o.Labels {
			if _, err := language.Parse(locale); err != nil {
				return nil, fmt.Errorf("role %q: invalid locale %q: %w", code, locale, err)
			}
			if label != "" {
				m.Labels[locale] = label
			}
		}
		if o.Description != "" {
			m.Description = o.Description
		}
		if o.Color != "" {
			m.Color = o.Color
		}
		out[code] = m
	}
	return out, nil
}

func (t MetadataTable) enumRole(code string, tag language.Tag) Role {
	m := t[code]
	name := m.Label(tag)
	if name == "" {
		name = code
	}
	return Role{
		Kind:           KindEnum,
		Code:           code,
		Name:           name,
		Description:    m.Description,
		Category:       m.Category,
		Color:          m.Color,
		Classification: m.Classification,
		Active:         true,
	}
}
