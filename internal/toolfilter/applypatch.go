// Package toolfilter applies minimal structural repairs and validation to
// tool calls at the outbound stage. It never parses or rewrites tool-call
// semantics; historical tool messages are left untouched.
package toolfilter

import (
	"fmt"
	"strings"

	"github.com/routecodex/routecodex/internal/domain"
)

const (
	patchHeader = "*** Begin Patch"
	patchFooter = "*** End Patch"

	sectionAdd    = "*** Add File: "
	sectionDelete = "*** Delete File: "
	sectionUpdate = "*** Update File: "
	sectionMove   = "*** Move to: "
	sectionEOF    = "*** End of File"
)

// ValidatePatch checks an apply_patch body for structural validity: the
// Begin/End markers, per-file section headers, and hunk change lines.
func ValidatePatch(patch string) error {
	lines := strings.Split(strings.TrimRight(patch, "\n"), "\n")
	if len(lines) < 2 {
		return fmt.Errorf("patch too short")
	}
	if lines[0] != patchHeader {
		return fmt.Errorf("patch must start with %q", patchHeader)
	}
	if lines[len(lines)-1] != patchFooter {
		return fmt.Errorf("patch must end with %q", patchFooter)
	}

	body := lines[1 : len(lines)-1]
	if len(body) == 0 {
		return fmt.Errorf("patch has no file sections")
	}

	var inSection bool
	var inUpdate bool
	var sawChangeLine bool
	var updateLine int
	// An Update File section must carry at least one change line.
	closeUpdate := func() error {
		if inUpdate && !sawChangeLine {
			return fmt.Errorf("line %d: Update File section has no change lines", updateLine)
		}
		return nil
	}
	for i, line := range body {
		switch {
		case strings.HasPrefix(line, sectionAdd):
			if strings.TrimPrefix(line, sectionAdd) == "" {
				return fmt.Errorf("line %d: Add File without a path", i+2)
			}
			if err := closeUpdate(); err != nil {
				return err
			}
			inSection, inUpdate = true, false
		case strings.HasPrefix(line, sectionDelete):
			if strings.TrimPrefix(line, sectionDelete) == "" {
				return fmt.Errorf("line %d: Delete File without a path", i+2)
			}
			if err := closeUpdate(); err != nil {
				return err
			}
			inSection, inUpdate = true, false
		case strings.HasPrefix(line, sectionUpdate):
			if strings.TrimPrefix(line, sectionUpdate) == "" {
				return fmt.Errorf("line %d: Update File without a path", i+2)
			}
			if err := closeUpdate(); err != nil {
				return err
			}
			inSection, inUpdate = true, true
			sawChangeLine = false
			updateLine = i + 2
		case strings.HasPrefix(line, sectionMove):
			if !inUpdate {
				return fmt.Errorf("line %d: Move to outside an Update File section", i+2)
			}
		case line == sectionEOF:
			if !inSection {
				return fmt.Errorf("line %d: End of File outside a section", i+2)
			}
		case strings.HasPrefix(line, "@@"):
			if !inUpdate {
				return fmt.Errorf("line %d: hunk marker outside an Update File section", i+2)
			}
		default:
			if !inSection {
				return fmt.Errorf("line %d: content before any file section", i+2)
			}
			if len(line) > 0 {
				switch line[0] {
				case ' ', '+', '-':
					sawChangeLine = true
				default:
					return fmt.Errorf("line %d: change line must start with space, + or -", i+2)
				}
			}
		}
	}
	if err := closeUpdate(); err != nil {
		return err
	}
	if !inSection {
		return fmt.Errorf("patch has no file sections")
	}
	return nil
}

// ValidateToolCall checks one outbound tool call. apply_patch arguments
// must carry a structurally valid patch; every call must carry non-empty
// JSON-string arguments.
func ValidateToolCall(tc *domain.ToolCall) error {
	if strings.TrimSpace(tc.Function.Arguments) == "" {
		return domain.NewError(domain.KindToolPayloadInvalid,
			"tool call %s has empty arguments", tc.Function.Name)
	}
	if tc.Function.Name != "apply_patch" {
		return nil
	}
	patch, err := extractPatch(tc.Function.Arguments)
	if err != nil {
		return domain.WrapError(domain.KindToolPayloadInvalid, err, "apply_patch arguments invalid")
	}
	if err := ValidatePatch(patch); err != nil {
		return domain.WrapError(domain.KindToolPayloadInvalid, err, "apply_patch body invalid")
	}
	return nil
}
