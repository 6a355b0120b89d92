package fuzzy

// Keyboard rows for the supported physical layouts. Adjacency is same-row
// left/right plus the rows above and below at the nearest columns.
var layouts = map[string][]string{
	"qwerty": {
		"qwertyuiop",
		"asdfghjkl",
		"zxcvbnm",
	},
	"azerty": {
		"azertyuiop",
		"qsdfghjklm",
		"wxcvbn",
	},
}

func layoutMap(name string) map[rune][]rune {
	rows, ok := layouts[name]
	if !ok {
		return nil
	}
	adj := make(map[rune][]rune)
	for ri, row := range rows {
		for ci, r := range row {
			var neighbors []rune
			appendAt := func(rowIdx, colIdx int) {
				if rowIdx < 0 || rowIdx >= len(rows) {
					return
				}
				line := []rune(rows[rowIdx])
				if colIdx < 0 || colIdx >= len(line) {
					return
				}
				neighbors = append(neighbors, line[colIdx])
			}
			appendAt(ri, ci-1)
			appendAt(ri, ci+1)
			appendAt(ri-1, ci)
			appendAt(ri-1, ci+1)
			appendAt(ri+1, ci)
			appendAt(ri+1, ci-1)
			adj[r] = neighbors
		}
	}
	return adj
}
