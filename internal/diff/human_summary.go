package diff

import (
	"fmt"
	"sort"
	"strings"
)

// RenderHumanSummary renders an advisory Markdown report for a
// SnapshotDiff; it is not part of the canonical diff and has no effect
// on ComputeDiff's determinism guarantees.
func RenderHumanSummary(d SnapshotDiff) string {
	var b strings.Builder
	b.WriteString("## Snapshot Diff\n\n")

	classLabel := map[Classification]string{
		ClassificationIdentical:       "Identical",
		ClassificationNoSemanticChange: "No Semantic Change",
		ClassificationChanged:         "Changed",
	}[d.Classification]

	fmt.Fprintf(&b, "**Classification**: %s  \n**Severity**: %s\n\n", classLabel, d.Severity)

	b.WriteString("### Identity\n\n")
	fmt.Fprintf(&b, "| | Manifest Digest | Semantic Digest | EPT Digest |\n|---|---|---|---|\n")
	fmt.Fprintf(&b, "| A | `%s` | `%s` | `%s` |\n", short(d.Identity.AManifestDigest), short(d.Identity.ASemanticManifestDigest), short(d.Identity.AEPTDigest))
	fmt.Fprintf(&b, "| B | `%s` | `%s` | `%s` |\n\n", short(d.Identity.BManifestDigest), short(d.Identity.BSemanticManifestDigest), short(d.Identity.BEPTDigest))

	if d.Classification == ClassificationIdentical || d.Classification == ClassificationNoSemanticChange {
		b.WriteString("_No semantic changes detected._\n")
		return b.String()
	}

	if d.EPTChanges.Changed {
		b.WriteString("### EPT Changes\n\n")
		if len(d.EPTChanges.AddedEPs) > 0 {
			fmt.Fprintf(&b, "- **Added EPs** (%d): %s\n", len(d.EPTChanges.AddedEPs), strings.Join(d.EPTChanges.AddedEPs, ", "))
		}
		if len(d.EPTChanges.RemovedEPs) > 0 {
			fmt.Fprintf(&b, "- **Removed EPs** (%d): %s\n", len(d.EPTChanges.RemovedEPs), strings.Join(d.EPTChanges.RemovedEPs, ", "))
		}
		if d.EPTChanges.OrderingChanged {
			b.WriteString("- **Ordering changed**\n")
		}
		b.WriteString("\n")
	}

	if len(d.EPContentChanges.ChangedEPs) > 0 {
		b.WriteString("### EP Content Changes\n\n")
		for _, epID := range d.EPContentChanges.ChangedEPs {
			fmt.Fprintf(&b, "- `%s` (digest changed)\n", epID)
		}
		b.WriteString("\n")
	}

	cc := d.ConstraintChanges
	hasCC := len(cc.DeclaredRefChanges.Added) > 0 || len(cc.DeclaredRefChanges.Removed) > 0 ||
		len(cc.FamilyChanges) > 0 || cc.ConstraintsDigestChange != nil
	if hasCC {
		b.WriteString("### Constraint Changes\n\n")
		if len(cc.DeclaredRefChanges.Added) > 0 {
			fmt.Fprintf(&b, "- **Added refs**: %s\n", strings.Join(cc.DeclaredRefChanges.Added, ", "))
		}
		if len(cc.DeclaredRefChanges.Removed) > 0 {
			fmt.Fprintf(&b, "- **Removed refs**: %s\n", strings.Join(cc.DeclaredRefChanges.Removed, ", "))
		}
		families := make([]string, 0, len(cc.FamilyChanges))
		for f := range cc.FamilyChanges {
			families = append(families, f)
		}
		sort.Strings(families)
		for _, family := range families {
			entry := cc.FamilyChanges[family]
			switch {
			case entry.Added:
				fmt.Fprintf(&b, "- **Family added**: `%s`\n", family)
			case entry.Removed:
				fmt.Fprintf(&b, "- **Family removed**: `%s`\n", family)
			case entry.DigestChanged:
				fmt.Fprintf(&b, "- **Family changed**: `%s` (digest changed)\n", family)
			}
		}
		b.WriteString("\n")
	}

	if d.CoverageChanges.Changed {
		b.WriteString("### Coverage Changes\n\n- Coverage metrics changed\n\n")
	}

	if len(d.ExceptionChanges.Added) > 0 || len(d.ExceptionChanges.Removed) > 0 {
		b.WriteString("### Exception Changes\n\n")
		if len(d.ExceptionChanges.Added) > 0 {
			fmt.Fprintf(&b, "- **Added**: %s\n", strings.Join(d.ExceptionChanges.Added, ", "))
		}
		if len(d.ExceptionChanges.Removed) > 0 {
			fmt.Fprintf(&b, "- **Removed**: %s\n", strings.Join(d.ExceptionChanges.Removed, ", "))
		}
		b.WriteString("\n")
	}

	if len(d.MetadataChanges.ChangedFields) > 0 {
		b.WriteString("### Metadata Changes\n\n")
		fields := make([]string, 0, len(d.MetadataChanges.ChangedFields))
		for f := range d.MetadataChanges.ChangedFields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, field := range fields {
			change := d.MetadataChanges.ChangedFields[field]
			fmt.Fprintf(&b, "- **%s**: `%v` → `%v`\n", field, change.Old, change.New)
		}
		b.WriteString("\n")
	}

	uc := d.UnknownChanges
	if len(uc.AddedFields) > 0 || len(uc.RemovedFields) > 0 || len(uc.ChangedFields) > 0 {
		b.WriteString("### Unknown Field Changes\n\n")
		if len(uc.AddedFields) > 0 {
			fmt.Fprintf(&b, "- **Added fields**: %s\n", strings.Join(uc.AddedFields, ", "))
		}
		if len(uc.RemovedFields) > 0 {
			fmt.Fprintf(&b, "- **Removed fields**: %s\n", strings.Join(uc.RemovedFields, ", "))
		}
		if len(uc.ChangedFields) > 0 {
			fmt.Fprintf(&b, "- **Changed fields**: %s\n", strings.Join(uc.ChangedFields, ", "))
		}
		b.WriteString("\n")
	}

	if len(d.InvariantViolations) > 0 {
		b.WriteString("### ⚠ Invariant Violations\n\n")
		for _, v := range d.InvariantViolations {
			fmt.Fprintf(&b, "- Manifest %s: constraints_digest mismatch (recorded `%s`, computed `%s`)\n", v.Which, short(v.Recorded), short(v.Computed))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func short(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}
