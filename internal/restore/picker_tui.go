package restore

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/sbl-ops/dumpguard/internal/tui"
	"github.com/sbl-ops/dumpguard/internal/types"
	"github.com/sbl-ops/dumpguard/pkg/utils"
)

var newTUIApp = tui.NewApp

// pickArtifactTUI shows the candidates in a themed table. ENTER selects the
// highlighted artifact, ESC aborts the workflow.
func pickArtifactTUI(candidates []types.Artifact) (types.Artifact, error) {
	app := newTUIApp()
	var (
		selected = -1
		aborted  bool
	)

	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)

	headers := []string{"Artifact", "Modified", "Size", "State"}
	for col, header := range headers {
		table.SetCell(0, col, tview.NewTableCell(header).
			SetTextColor(tui.AccentBlue).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false).
			SetExpansion(1))
	}

	for row, cand := range candidates {
		state := artifactState(cand)
		cells := []string{
			cand.Name(),
			cand.ModifiedAt.Format("2006-01-02 15:04:05"),
			utils.FormatBytes(cand.SizeBytes),
			titleCaser.String(state),
		}
		for col, text := range cells {
			cell := tview.NewTableCell(text).SetExpansion(1)
			if col == len(cells)-1 {
				cell.SetTextColor(tui.StatusColor(state))
			}
			table.SetCell(row+1, col, cell)
		}
	}

	table.Select(1, 0)
	table.SetSelectedFunc(func(row, column int) {
		if row >= 1 && row <= len(candidates) {
			selected = row - 1
			app.Stop()
		}
	})
	table.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape {
			aborted = true
			app.Stop()
		}
	})

	table.SetBorder(true).
		SetTitle(" Select Encrypted Artifact ").
		SetTitleAlign(tview.AlignCenter)

	if err := app.SetRoot(table, true).SetFocus(table).Run(); err != nil {
		return types.Artifact{}, err
	}
	if aborted || selected < 0 {
		return types.Artifact{}, ErrRestoreAborted
	}
	return candidates[selected], nil
}
