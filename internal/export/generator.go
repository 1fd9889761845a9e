// Package export builds the OBY filing payload for a case. Generation never
// fails: anything missing or defaulted is reported as a warning next to the
// snapshot.
package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/polishcitizenship/portal-core/internal/config"
	"github.com/polishcitizenship/portal-core/internal/lifecycle"
	"github.com/polishcitizenship/portal-core/internal/model"
)

// Document kinds the filing checks look for.
const (
	DocPassport     = "passport"
	DocLineageProof = "ancestor_birth_certificate"
)

// Defaults substituted into the snapshot when the case has no value. Each
// substitution is reported as a warning.
const (
	DefaultClaimBasis       = "jus-sanguinis"
	DefaultPreferredContact = "email"
)

const (
	defaultSchemaVersion     = "1.0"
	defaultTimelineLimitDays = 180
)

// Generator turns cases into export payloads. The zero value is usable and
// falls back to the default schema version, timeline limit and lifecycle
// guard parameters.
type Generator struct {
	SchemaVersion     string
	TimelineLimitDays int
	// RequiredPaidMilestones and DocumentKinds mirror the lifecycle guards so
	// the payload warns about the same gaps that block submission.
	RequiredPaidMilestones int
	DocumentKinds          []string
}

// NewGenerator builds a Generator from the export section and the lifecycle guard config.
func NewGenerator(cfg config.ExportConfig, lc lifecycle.Config) Generator {
	return Generator{
		SchemaVersion:          cfg.SchemaVersion,
		TimelineLimitDays:      cfg.TimelineLimitDays,
		RequiredPaidMilestones: lc.RequiredPaidMilestones,
		DocumentKinds:          append([]string(nil), lc.CivilStatusChecklist...),
	}
}

func (g Generator) withDefaults() Generator {
	lc := lifecycle.DefaultConfig()
	if g.SchemaVersion == "" {
		g.SchemaVersion = defaultSchemaVersion
	}
	if g.TimelineLimitDays <= 0 {
		g.TimelineLimitDays = defaultTimelineLimitDays
	}
	if g.RequiredPaidMilestones <= 0 {
		g.RequiredPaidMilestones = lc.RequiredPaidMilestones
	}
	if len(g.DocumentKinds) == 0 {
		g.DocumentKinds = lc.CivilStatusChecklist
	}
	return g
}

// Generate builds the export payload for c as of now. It reads c only.
// Two calls on an unchanged case differ only in GeneratedAt.
func (g Generator) Generate(c *model.Case, now time.Time) model.ExportPayload {
	g = g.withDefaults()

	b := &builder{}
	b.applicant(c.Client)
	b.parents(c.Family)
	b.grandparents(c.Family)
	b.lineage(c.Family)
	b.contact(c.Client)
	b.address(c.Client.Address)
	b.documents(c.Documents, g.DocumentKinds)
	b.caseInfo(c)
	b.declarations()

	if c.State.Ordinal() < model.StateOBYSubmittable.Ordinal() {
		b.warn(fmt.Sprintf("Case is in state %s; filing requires %s or later", c.State, model.StateOBYSubmittable))
	}
	if paid := c.PaidPrefix(); paid < g.RequiredPaidMilestones {
		b.warn(fmt.Sprintf("First %d payment milestones not paid (%d paid)", g.RequiredPaidMilestones, paid))
	}
	if c.LowEligibility {
		level := "unknown"
		if c.Eligibility != nil {
			level = string(c.Eligibility.Level)
		}
		b.warn(fmt.Sprintf("Eligibility assessment below MEDIUM (%s); review before filing", level))
	}

	checks := g.runChecks(c)
	submittable := true
	for _, ch := range checks {
		if ch.Passed {
			continue
		}
		b.warn(ch.Rule + ": " + ch.Message)
		if ch.Severity == model.SeverityBlocker {
			submittable = false
		}
	}

	return model.ExportPayload{
		Meta: model.ExportMeta{
			SchemaVersion: g.SchemaVersion,
			CaseID:        c.ID,
			ClientRef:     c.ClientRef,
			State:         c.State,
		},
		CaseSnapshot: b.snapshot(),
		Warnings:     b.warningList(),
		Checks:       checks,
		Submittable:  submittable,
		GeneratedAt:  now.UTC(),
	}
}

// builder accumulates snapshot fields and warnings in a fixed order.
type builder struct {
	fields   []model.Field
	warnings []string
}

func (b *builder) set(key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	b.fields = append(b.fields, model.Field{Key: key, Value: value})
}

// require sets key or warns that label is missing.
func (b *builder) require(key, value, label string) {
	if strings.TrimSpace(value) == "" {
		b.warn("Missing " + label)
		return
	}
	b.set(key, value)
}

// fallback sets key to def when value is blank and reports the substitution.
func (b *builder) fallback(key, value, def, label string) {
	if strings.TrimSpace(value) != "" {
		b.set(key, value)
		return
	}
	b.set(key, def)
	b.warn(fmt.Sprintf("%s not recorded; defaulted to %q", label, def))
}

func (b *builder) warn(msg string) {
	b.warnings = append(b.warnings, msg)
}

func (b *builder) snapshot() []model.Field {
	if b.fields == nil {
		return []model.Field{}
	}
	return b.fields
}

func (b *builder) warningList() []string {
	if b.warnings == nil {
		return []string{}
	}
	return b.warnings
}

func (b *builder) applicant(cl model.Client) {
	b.require("OBY-A-GN", cl.GivenNames, "applicant given names")
	b.require("OBY-A-SN", cl.Surname, "applicant surname")
	b.set("OBY-A-BIRTH-SN", cl.BirthSurname)
	b.set("OBY-A-SEX", cl.Sex)
	b.require("OBY-A-DOB", cl.DateOfBirth, "applicant date of birth")
	b.require("OBY-A-POB", cl.PlaceOfBirth, "applicant place of birth")
	b.set("OBY-A-NATIONALITY", cl.Nationality)
	b.require("OBY-A-PASSPORT-NO", cl.PassportNumber, "applicant document (passport) number")
	b.set("OBY-A-MARITAL-STATUS", cl.MaritalStatus)
	b.set("OBY-A-PROFESSION", cl.Profession)
}

func (b *builder) parents(family []model.FamilyMember) {
	parents := membersOf(family, model.RelationParent, 2)
	ordinals := []string{"first", "second"}
	for i, ord := range ordinals {
		if i >= len(parents) {
			b.warn(fmt.Sprintf("Missing %s parent data", ord))
			continue
		}
		prefix := fmt.Sprintf("OBY-P%d", i+1)
		p := parents[i]
		b.require(prefix+"-GN", p.GivenNames, fmt.Sprintf("P%d parent given names", i+1))
		b.member(prefix, p)
	}
}

func (b *builder) grandparents(family []model.FamilyMember) {
	for i, gp := range membersOf(family, model.RelationGrandparent, 2) {
		prefix := fmt.Sprintf("OBY-GP%d", i+1)
		b.set(prefix+"-GN", gp.GivenNames)
		b.member(prefix, gp)
	}
}

// member writes everything but the given names, which callers handle.
func (b *builder) member(prefix string, m model.FamilyMember) {
	b.set(prefix+"-SN", m.Surname)
	b.set(prefix+"-MAIDEN", m.MaidenName)
	b.set(prefix+"-DOB", m.DateOfBirth)
	b.set(prefix+"-POB", m.PlaceOfBirth)
	b.set(prefix+"-NATIONALITY", m.Nationality)
	b.set(prefix+"-POLISH-CITIZEN", strconv.FormatBool(m.Polish))
	b.set(prefix+"-BIRTH-CERT-NO", m.BirthCertNo)
}

func (b *builder) lineage(family []model.FamilyMember) {
	ancestor, ok := polishAncestor(family)
	if !ok {
		b.warn("No Polish ancestor found in family tree")
		return
	}
	b.fallback("OBY-L-CLAIM-BASIS", "", DefaultClaimBasis, "Claim basis")
	b.set("OBY-L-GENERATION", strconv.Itoa(generation(ancestor.Relation)))
	line := string(ancestor.Relation)
	if name := strings.TrimSpace(ancestor.GivenNames + " " + ancestor.Surname); name != "" {
		line += ": " + name
	}
	b.set("OBY-L-ANCESTOR-LINE", line)
	if ancestor.EmigratedIn > 0 {
		b.set("OBY-L-EMIGRATED", strconv.Itoa(ancestor.EmigratedIn))
	}
}

func (b *builder) contact(cl model.Client) {
	b.set("OBY-C-EMAIL", cl.Email)
	b.set("OBY-C-PHONE", cl.Phone)
	b.fallback("OBY-C-PREFERRED-CONTACT", cl.PreferredContact, DefaultPreferredContact, "Preferred contact method")
}

func (b *builder) address(a model.Address) {
	if a == (model.Address{}) {
		b.warn("Missing applicant current address")
		return
	}
	b.set("OBY-ADDR-CURRENT-STREET", a.Street)
	b.set("OBY-ADDR-CURRENT-CITY", a.City)
	b.set("OBY-ADDR-CURRENT-POSTAL", a.PostalCode)
	b.set("OBY-ADDR-CURRENT-COUNTRY", a.Country)
}

func (b *builder) documents(d model.Documents, kinds []string) {
	b.set("OBY-DOC-RECEIVED", fmt.Sprintf("%d/%d", d.Received, d.Expected))
	if d.Received < d.Expected {
		b.warn(fmt.Sprintf("Document collection incomplete: %d/%d", d.Received, d.Expected))
	}
	b.set(docKey(DocPassport), strconv.FormatBool(d.HasCivilStatus(DocPassport)))
	for _, k := range kinds {
		if k == DocPassport {
			continue
		}
		b.set(docKey(k), strconv.FormatBool(d.HasCivilStatus(k)))
	}
}

func (b *builder) caseInfo(c *model.Case) {
	b.set("OBY-CASE-TIER", string(c.Tier))
	if c.Eligibility != nil {
		b.set("OBY-CASE-ELIGIBILITY", fmt.Sprintf("%s (%d)", c.Eligibility.Level, c.Eligibility.Score))
	}
}

// declarations are signed by the applicant at filing; the case never holds them.
func (b *builder) declarations() {
	b.warn("Applicant declarations (accuracy, allegiance, no terrorism, no treason, oath) require explicit confirmation before filing")
}

func docKey(kind string) string {
	return "OBY-DOC-" + strings.ToUpper(strings.ReplaceAll(kind, "_", "-"))
}

func membersOf(family []model.FamilyMember, rel model.Relation, limit int) []model.FamilyMember {
	var out []model.FamilyMember
	for _, m := range family {
		if m.Relation == rel {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// polishAncestor returns the closest Polish ancestor, preferring earlier
// family entries within the same generation.
func polishAncestor(family []model.FamilyMember) (model.FamilyMember, bool) {
	var best model.FamilyMember
	found := false
	for _, m := range family {
		if !m.Polish || generation(m.Relation) == 0 {
			continue
		}
		if !found || generation(m.Relation) < generation(best.Relation) {
			best, found = m, true
		}
	}
	return best, found
}

func generation(r model.Relation) int {
	switch r {
	case model.RelationParent:
		return 1
	case model.RelationGrandparent:
		return 2
	case model.RelationGreatGrandparent:
		return 3
	}
	return 0
}
