package services

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/domain/models"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// killChainOrder lists the enterprise tactics in kill-chain order. The
// coverage matrix and tactic listings follow this order rather than the
// lexicographic one.
var killChainOrder = []string{
	"TA0043", // Reconnaissance
	"TA0042", // Resource Development
	"TA0001", // Initial Access
	"TA0002", // Execution
	"TA0003", // Persistence
	"TA0004", // Privilege Escalation
	"TA0005", // Defense Evasion
	"TA0006", // Credential Access
	"TA0007", // Discovery
	"TA0008", // Lateral Movement
	"TA0009", // Collection
	"TA0011", // Command and Control
	"TA0010", // Exfiltration
	"TA0040", // Impact
}

// MITREService is the read-only ATT&CK taxonomy index. It loads a STIX 2.x
// bundle once and serves hash-indexed lookups; deprecated and revoked
// technique IDs are transparently remapped to their current equivalent.
type MITREService struct {
	logger *logger.Logger

	mu         sync.RWMutex
	tactics    map[string]*models.MITRETactic
	techniques map[string]*models.MITRETechnique

	tacticsByShortName map[string]*models.MITRETactic
	techniquesByTactic map[string][]*models.MITRETechnique
	// subtechniquesByParent is the explicit parent/child adjacency built at
	// load time, so rollups never fall back to string-prefix matching.
	subtechniquesByParent map[string][]*models.MITRETechnique
	// remap sends a revoked/deprecated technique ID to its replacement.
	remap map[string]string

	version    string
	lastLoaded time.Time
}

// stixBundle is the STIX 2.x bundle envelope from the MITRE CTI repository.
type stixBundle struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Objects []json.RawMessage `json:"objects"`
}

type stixExternalRef struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

// NewMITREService creates a taxonomy index preloaded with the embedded
// enterprise tactics. Call LoadFromFile to index a full ATT&CK bundle.
func NewMITREService(log *logger.Logger) *MITREService {
	svc := &MITREService{
		logger:                log.WithComponent("mitre-service"),
		tactics:               make(map[string]*models.MITRETactic),
		techniques:            make(map[string]*models.MITRETechnique),
		tacticsByShortName:    make(map[string]*models.MITRETactic),
		techniquesByTactic:    make(map[string][]*models.MITRETechnique),
		subtechniquesByParent: make(map[string][]*models.MITRETechnique),
		remap:                 make(map[string]string),
	}

	svc.loadEmbeddedTactics()
	return svc
}

// LoadFromFile loads an ATT&CK STIX bundle JSON file and rebuilds all indexes.
func (s *MITREService) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read ATT&CK bundle: %w", err)
	}
	return s.LoadBundle(data)
}

// LoadBundle parses a STIX bundle from raw bytes and rebuilds all indexes.
func (s *MITREService) LoadBundle(data []byte) error {
	var bundle stixBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("failed to parse STIX bundle: %w", err)
	}

	tactics := make(map[string]*models.MITRETactic)
	techniques := make(map[string]*models.MITRETechnique)
	shortNames := make(map[string]*models.MITRETactic)
	stixToAttackID := make(map[string]string)
	type revocation struct{ source, target string }
	var revocations []revocation

	// First pass: tactics, so technique kill-chain phases can be resolved to
	// tactic IDs in the second pass.
	for _, raw := range bundle.Objects {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.Type != "x-mitre-tactic" {
			continue
		}
		if t := parseTactic(raw); t != nil {
			tactics[t.ID] = t
			shortNames[t.ShortName] = t
		}
	}

	for _, raw := range bundle.Objects {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		switch head.Type {
		case "attack-pattern":
			tech, stixID := parseTechnique(raw, shortNames)
			if tech == nil {
				continue
			}
			techniques[tech.ID] = tech
			stixToAttackID[stixID] = tech.ID
		case "relationship":
			var rel struct {
				RelationshipType string `json:"relationship_type"`
				SourceRef        string `json:"source_ref"`
				TargetRef        string `json:"target_ref"`
			}
			if err := json.Unmarshal(raw, &rel); err != nil {
				continue
			}
			if rel.RelationshipType == "revoked-by" {
				revocations = append(revocations, revocation{source: rel.SourceRef, target: rel.TargetRef})
			}
		}
	}

	// Resolve revoked-by relationships to an attack-ID remapping table.
	remap := make(map[string]string)
	for _, rev := range revocations {
		oldID, ok1 := stixToAttackID[rev.source]
		newID, ok2 := stixToAttackID[rev.target]
		if ok1 && ok2 && oldID != newID {
			remap[oldID] = newID
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tactics) > 0 {
		s.tactics = tactics
		s.tacticsByShortName = shortNames
	}
	s.techniques = techniques
	s.remap = remap
	s.version = bundle.ID
	s.buildIndexes()
	s.lastLoaded = time.Now()

	s.logger.Info().
		Int("tactics", len(s.tactics)).
		Int("techniques", len(s.techniques)).
		Int("remapped", len(s.remap)).
		Msg("ATT&CK taxonomy loaded")

	return nil
}

func parseTactic(data json.RawMessage) *models.MITRETactic {
	var raw struct {
		Name         string            `json:"name"`
		ShortName    string            `json:"x_mitre_shortname"`
		Deprecated   bool              `json:"x_mitre_deprecated"`
		ExternalRefs []stixExternalRef `json:"external_references"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	var tacticID, url string
	for _, ref := range raw.ExternalRefs {
		if ref.SourceName == "mitre-attack" {
			tacticID = ref.ExternalID
			url = ref.URL
			break
		}
	}
	if tacticID == "" || raw.Name == "" {
		return nil
	}

	return &models.MITRETactic{
		ID:         tacticID,
		Name:       raw.Name,
		ShortName:  raw.ShortName,
		URL:        url,
		Deprecated: raw.Deprecated,
	}
}

func parseTechnique(data json.RawMessage, tacticsByShortName map[string]*models.MITRETactic) (*models.MITRETechnique, string) {
	var raw struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		IsSubtechnique  bool   `json:"x_mitre_is_subtechnique"`
		Deprecated      bool   `json:"x_mitre_deprecated"`
		Revoked         bool   `json:"revoked"`
		KillChainPhases []struct {
			KillChainName string `json:"kill_chain_name"`
			PhaseName     string `json:"phase_name"`
		} `json:"kill_chain_phases"`
		ExternalRefs []stixExternalRef `json:"external_references"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ""
	}

	var techID, url string
	for _, ref := range raw.ExternalRefs {
		if ref.SourceName == "mitre-attack" {
			techID = ref.ExternalID
			url = ref.URL
			break
		}
	}
	if techID == "" {
		return nil, ""
	}

	var tacticIDs []string
	for _, phase := range raw.KillChainPhases {
		if phase.KillChainName != "mitre-attack" {
			continue
		}
		if tactic, ok := tacticsByShortName[phase.PhaseName]; ok {
			tacticIDs = append(tacticIDs, tactic.ID)
		}
	}

	var parentID string
	if raw.IsSubtechnique {
		if dot := strings.Index(techID, "."); dot > 0 {
			parentID = techID[:dot]
		}
	}

	return &models.MITRETechnique{
		ID:             techID,
		Name:           raw.Name,
		Tactics:        tacticIDs,
		IsSubtechnique: raw.IsSubtechnique,
		ParentID:       parentID,
		URL:            url,
		Deprecated:     raw.Deprecated,
		Revoked:        raw.Revoked,
	}, raw.ID
}

// buildIndexes rebuilds the per-tactic and parent/child adjacencies.
// Callers must hold the write lock.
func (s *MITREService) buildIndexes() {
	s.techniquesByTactic = make(map[string][]*models.MITRETechnique)
	s.subtechniquesByParent = make(map[string][]*models.MITRETechnique)

	// Sub-techniques inherit the parent's tactic set when the bundle gives
	// them none of their own.
	for _, tech := range s.techniques {
		if tech.IsSubtechnique && len(tech.Tactics) == 0 && tech.ParentID != "" {
			if parent, ok := s.techniques[tech.ParentID]; ok {
				tech.Tactics = append([]string(nil), parent.Tactics...)
			}
		}
	}

	for _, tech := range s.techniques {
		for _, tacticID := range tech.Tactics {
			s.techniquesByTactic[tacticID] = append(s.techniquesByTactic[tacticID], tech)
		}
		if tech.IsSubtechnique && tech.ParentID != "" {
			s.subtechniquesByParent[tech.ParentID] = append(s.subtechniquesByParent[tech.ParentID], tech)
		}
	}

	for _, list := range s.techniquesByTactic {
		sortTechniques(list)
	}
	for _, list := range s.subtechniquesByParent {
		sortTechniques(list)
	}
}

func sortTechniques(list []*models.MITRETechnique) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].IsSubtechnique != list[j].IsSubtechnique {
			return !list[i].IsSubtechnique
		}
		return list[i].ID < list[j].ID
	})
}

// ResolveTactic returns a tactic by ID or short name.
func (s *MITREService) ResolveTactic(id string) (*models.MITRETactic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tactics[strings.ToUpper(id)]; ok {
		return t, true
	}
	t, ok := s.tacticsByShortName[strings.ToLower(id)]
	return t, ok
}

// ResolveTechnique returns a technique by ID, following the deprecated→current
// remapping first.
func (s *MITREService) ResolveTechnique(id string) (*models.MITRETechnique, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.techniques[s.mapLocked(strings.ToUpper(id))]
	return t, ok
}

// MapTechnique resolves a technique ID through the revoked-by chain. The
// second return is false when the resulting ID is absent from the taxonomy;
// the ID is still returned so callers can report it instead of dropping it.
func (s *MITREService) MapTechnique(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mapped := s.mapLocked(strings.ToUpper(id))
	_, ok := s.techniques[mapped]
	return mapped, ok
}

// mapLocked follows the remap chain with a small hop limit to guard against
// mapping cycles in a malformed bundle. Callers must hold a lock.
func (s *MITREService) mapLocked(id string) string {
	for hops := 0; hops < 4; hops++ {
		next, ok := s.remap[id]
		if !ok {
			return id
		}
		id = next
	}
	return id
}

// ListTactics returns all non-deprecated tactics in kill-chain order, with
// any tactics outside the known ordering appended by ID.
func (s *MITREService) ListTactics() []*models.MITRETactic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.tactics))
	result := make([]*models.MITRETactic, 0, len(s.tactics))
	for _, id := range killChainOrder {
		if t, ok := s.tactics[id]; ok && !t.Deprecated {
			result = append(result, t)
			seen[id] = true
		}
	}

	var rest []*models.MITRETactic
	for id, t := range s.tactics {
		if !seen[id] && !t.Deprecated {
			rest = append(rest, t)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].ID < rest[j].ID })

	return append(result, rest...)
}

// TechniquesByTactic returns the ordered, non-deprecated techniques of a
// tactic. Sub-techniques are included only when requested.
func (s *MITREService) TechniquesByTactic(tacticID string, includeSubtechniques bool) []*models.MITRETechnique {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.MITRETechnique
	for _, tech := range s.techniquesByTactic[strings.ToUpper(tacticID)] {
		if tech.Deprecated || tech.Revoked {
			continue
		}
		if tech.IsSubtechnique && !includeSubtechniques {
			continue
		}
		result = append(result, tech)
	}
	return result
}

// ListTechniques returns every non-deprecated technique sorted by ID.
// Sub-techniques are included only when requested.
func (s *MITREService) ListTechniques(includeSubtechniques bool) []*models.MITRETechnique {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.MITRETechnique, 0, len(s.techniques))
	for _, tech := range s.techniques {
		if tech.Deprecated || tech.Revoked {
			continue
		}
		if tech.IsSubtechnique && !includeSubtechniques {
			continue
		}
		result = append(result, tech)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Subtechniques returns the ordered sub-techniques of a parent technique.
func (s *MITREService) Subtechniques(parentID string) []*models.MITRETechnique {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subtechniquesByParent[strings.ToUpper(parentID)]
}

// Stats summarizes the loaded snapshot.
func (s *MITREService) Stats() models.MITREStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subCount := 0
	for _, t := range s.techniques {
		if t.IsSubtechnique {
			subCount++
		}
	}

	return models.MITREStats{
		TotalTactics:       len(s.tactics),
		TotalTechniques:    len(s.techniques) - subCount,
		TotalSubtechniques: subCount,
		RemappedIDs:        len(s.remap),
		Version:            s.version,
		LastLoaded:         s.lastLoaded,
	}
}

// loadEmbeddedTactics seeds the index with the fourteen enterprise tactics so
// tactic lookups work before (or without) a full bundle load.
func (s *MITREService) loadEmbeddedTactics() {
	embedded := []models.MITRETactic{
		{ID: "TA0043", Name: "Reconnaissance", ShortName: "reconnaissance", URL: "https://attack.mitre.org/tactics/TA0043/"},
		{ID: "TA0042", Name: "Resource Development", ShortName: "resource-development", URL: "https://attack.mitre.org/tactics/TA0042/"},
		{ID: "TA0001", Name: "Initial Access", ShortName: "initial-access", URL: "https://attack.mitre.org/tactics/TA0001/"},
		{ID: "TA0002", Name: "Execution", ShortName: "execution", URL: "https://attack.mitre.org/tactics/TA0002/"},
		{ID: "TA0003", Name: "Persistence", ShortName: "persistence", URL: "https://attack.mitre.org/tactics/TA0003/"},
		{ID: "TA0004", Name: "Privilege Escalation", ShortName: "privilege-escalation", URL: "https://attack.mitre.org/tactics/TA0004/"},
		{ID: "TA0005", Name: "Defense Evasion", ShortName: "defense-evasion", URL: "https://attack.mitre.org/tactics/TA0005/"},
		{ID: "TA0006", Name: "Credential Access", ShortName: "credential-access", URL: "https://attack.mitre.org/tactics/TA0006/"},
		{ID: "TA0007", Name: "Discovery", ShortName: "discovery", URL: "https://attack.mitre.org/tactics/TA0007/"},
		{ID: "TA0008", Name: "Lateral Movement", ShortName: "lateral-movement", URL: "https://attack.mitre.org/tactics/TA0008/"},
		{ID: "TA0009", Name: "Collection", ShortName: "collection", URL: "https://attack.mitre.org/tactics/TA0009/"},
		{ID: "TA0011", Name: "Command and Control", ShortName: "command-and-control", URL: "https://attack.mitre.org/tactics/TA0011/"},
		{ID: "TA0010", Name: "Exfiltration", ShortName: "exfiltration", URL: "https://attack.mitre.org/tactics/TA0010/"},
		{ID: "TA0040", Name: "Impact", ShortName: "impact", URL: "https://attack.mitre.org/tactics/TA0040/"},
	}

	for i := range embedded {
		s.tactics[embedded[i].ID] = &embedded[i]
		s.tacticsByShortName[embedded[i].ShortName] = &embedded[i]
	}
}

// LoadTestData replaces the technique set directly. Intended for tests and
// for embedding trimmed taxonomies; production loads go through LoadBundle.
func (s *MITREService) LoadTestData(tactics []models.MITRETactic, techniques []models.MITRETechnique, remap map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tactics) > 0 {
		s.tactics = make(map[string]*models.MITRETactic, len(tactics))
		s.tacticsByShortName = make(map[string]*models.MITRETactic, len(tactics))
		for i := range tactics {
			s.tactics[tactics[i].ID] = &tactics[i]
			s.tacticsByShortName[tactics[i].ShortName] = &tactics[i]
		}
	}
	s.techniques = make(map[string]*models.MITRETechnique, len(techniques))
	for i := range techniques {
		s.techniques[techniques[i].ID] = &techniques[i]
	}
	s.remap = make(map[string]string, len(remap))
	for k, v := range remap {
		s.remap[k] = v
	}
	s.buildIndexes()
	s.lastLoaded = time.Now()
}
