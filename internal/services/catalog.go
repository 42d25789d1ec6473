package services

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/adaptivity-backend/internal/adaptivity"
	"github.com/yungbote/adaptivity-backend/internal/logger"
)

// CatalogService serves the slot/policy catalog loaded at startup. The
// catalog is a YAML document authored by the content team; guards are
// validated at load so a broken expression fails the boot instead of
// silently suppressing a variant at runtime.
type CatalogService interface {
	GetSlot(slotID adaptivity.SlotID) (*adaptivity.Slot, error)
	Policy() *adaptivity.Policy
	SlotIDs() []adaptivity.SlotID
}

type catalogService struct {
	slots  map[adaptivity.SlotID]*adaptivity.Slot
	order  []adaptivity.SlotID
	policy *adaptivity.Policy
	log    *logger.Logger
}

type catalogFile struct {
	Policy catalogPolicy `yaml:"policy"`
	Slots  []catalogSlot `yaml:"slots"`
}

type catalogPolicy struct {
	Version string       `yaml:"version"`
	Hash    string       `yaml:"hash"`
	Caps    *catalogCaps `yaml:"caps"`
}

type catalogCaps struct {
	HintPerSession int  `yaml:"hint_per_session"`
	DenyOffline    bool `yaml:"deny_offline"`
}

type catalogSlot struct {
	ID                string           `yaml:"id"`
	FallbackVariantID string           `yaml:"fallback_variant_id"`
	Variants          []catalogVariant `yaml:"variants"`
}

type catalogVariant struct {
	ID           string               `yaml:"id"`
	Guard        string               `yaml:"guard"`
	Meta         catalogVariantMeta   `yaml:"meta"`
	ScoreWeights *catalogScoreWeights `yaml:"score_weights"`
	Sticky       *catalogSticky       `yaml:"sticky"`
}

type catalogVariantMeta struct {
	Difficulty    string   `yaml:"difficulty"`
	Modality      string   `yaml:"modality"`
	Language      string   `yaml:"language"`
	DurationSec   int      `yaml:"duration_sec"`
	Theme         string   `yaml:"theme"`
	CognitiveLoad string   `yaml:"cognitive_load"`
	DeviceFit     []string `yaml:"device_fit"`
	Captions      bool     `yaml:"captions"`
	Transcript    bool     `yaml:"transcript"`
	Skills        []string `yaml:"skills"`
	KnowledgeTag  string   `yaml:"knowledge_tag"`
	Prerequisites []string `yaml:"prerequisites"`
	Track         string   `yaml:"track"`
}

type catalogScoreWeights struct {
	PreferLowAcc     float64            `yaml:"prefer_low_acc"`
	PreferThemeMatch float64            `yaml:"prefer_theme_match"`
	PreferModality   map[string]float64 `yaml:"prefer_modality"`
}

type catalogSticky struct {
	Scope    string `yaml:"scope"`
	Strength string `yaml:"strength"`
}

// NewCatalogService loads and validates the catalog file.
func NewCatalogService(path string, baseLog *logger.Logger) (CatalogService, error) {
	log := baseLog.With("service", "CatalogService")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if file.Policy.Version == "" {
		return nil, fmt.Errorf("catalog %s: policy.version is required", path)
	}

	svc := &catalogService{
		slots:  make(map[adaptivity.SlotID]*adaptivity.Slot, len(file.Slots)),
		policy: buildPolicy(file.Policy),
		log:    log,
	}

	for _, cs := range file.Slots {
		if cs.ID == "" {
			return nil, fmt.Errorf("catalog %s: slot with empty id", path)
		}
		if len(cs.Variants) == 0 {
			return nil, fmt.Errorf("catalog %s: slot %q has no variants", path, cs.ID)
		}
		slot, err := buildSlot(cs)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: slot %q: %w", path, cs.ID, err)
		}
		if _, dup := svc.slots[slot.ID]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate slot id %q", path, cs.ID)
		}
		svc.slots[slot.ID] = slot
		svc.order = append(svc.order, slot.ID)
	}

	log.Info("Catalog loaded", "slots", len(svc.slots), "policyVersion", svc.policy.Version)
	return svc, nil
}

func buildPolicy(cp catalogPolicy) *adaptivity.Policy {
	policy := &adaptivity.Policy{
		Version: cp.Version,
		Hash:    cp.Hash,
	}
	if cp.Caps != nil {
		caps := &adaptivity.PolicyCaps{
			HintPerSession: cp.Caps.HintPerSession,
			DenyOffline:    cp.Caps.DenyOffline,
		}
		policy.Caps = caps
		if caps.DenyOffline {
			policy.Allows = func(_ *adaptivity.Slot, s *adaptivity.SessionSnapshot) bool {
				return s.Env.Online
			}
		}
	}
	return policy
}

func buildSlot(cs catalogSlot) (*adaptivity.Slot, error) {
	slot := &adaptivity.Slot{
		ID:                cs.ID,
		FallbackVariantID: cs.FallbackVariantID,
		Variants:          make([]adaptivity.Variant, 0, len(cs.Variants)),
	}
	seen := map[string]bool{}
	for _, cv := range cs.Variants {
		if cv.ID == "" {
			return nil, fmt.Errorf("variant with empty id")
		}
		if seen[cv.ID] {
			return nil, fmt.Errorf("duplicate variant id %q", cv.ID)
		}
		seen[cv.ID] = true
		if cv.Guard != "" {
			if err := adaptivity.ValidateGuard(cv.Guard); err != nil {
				return nil, fmt.Errorf("variant %q guard: %w", cv.ID, err)
			}
		}
		slot.Variants = append(slot.Variants, buildVariant(cv))
	}
	if slot.FallbackVariantID != "" && !seen[slot.FallbackVariantID] {
		return nil, fmt.Errorf("fallback variant %q not declared", slot.FallbackVariantID)
	}
	return slot, nil
}

func buildVariant(cv catalogVariant) adaptivity.Variant {
	v := adaptivity.Variant{
		ID:    cv.ID,
		Guard: cv.Guard,
		Meta: adaptivity.VariantMeta{
			Difficulty:    cv.Meta.Difficulty,
			Modality:      cv.Meta.Modality,
			Language:      cv.Meta.Language,
			DurationSec:   cv.Meta.DurationSec,
			Theme:         cv.Meta.Theme,
			CognitiveLoad: cv.Meta.CognitiveLoad,
			Skills:        cv.Meta.Skills,
			KnowledgeTag:  cv.Meta.KnowledgeTag,
			Prerequisites: cv.Meta.Prerequisites,
			Track:         cv.Meta.Track,
		},
	}
	for _, d := range cv.Meta.DeviceFit {
		v.Meta.DeviceFit = append(v.Meta.DeviceFit, adaptivity.Device(d))
	}
	if cv.Meta.Captions || cv.Meta.Transcript {
		v.Meta.Accessibility = &adaptivity.AccessibilityMeta{
			Captions:   cv.Meta.Captions,
			Transcript: cv.Meta.Transcript,
		}
	}
	if cv.ScoreWeights != nil {
		v.ScoreWeights = &adaptivity.ScoreWeights{
			PreferLowAcc:     cv.ScoreWeights.PreferLowAcc,
			PreferThemeMatch: cv.ScoreWeights.PreferThemeMatch,
			PreferModality:   cv.ScoreWeights.PreferModality,
		}
	}
	if cv.Sticky != nil {
		v.Sticky = &adaptivity.StickyConfig{
			Scope:    adaptivity.StickyScope(cv.Sticky.Scope),
			Strength: adaptivity.StickyStrength(cv.Sticky.Strength),
		}
	}
	return v
}

func (s *catalogService) GetSlot(slotID adaptivity.SlotID) (*adaptivity.Slot, error) {
	slot, ok := s.slots[slotID]
	if !ok {
		return nil, fmt.Errorf("unknown slot %q", slotID)
	}
	return slot, nil
}

func (s *catalogService) Policy() *adaptivity.Policy {
	return s.policy
}

func (s *catalogService) SlotIDs() []adaptivity.SlotID {
	out := make([]adaptivity.SlotID, len(s.order))
	copy(out, s.order)
	return out
}
