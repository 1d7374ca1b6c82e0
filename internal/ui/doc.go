// Package ui renders CLI output for whanau.
//
// Each Formatter names a kind of value rather than a color: Code for
// commands to run, Highlight for names the user typed, Secret for invite
// codes and keys, and so on. Done, Fail, Hint and Notice prefix a status
// line with its mark:
//
//	fmt.Println(ui.Done("Created family ") + ui.Highlight.Sprint("Ngata"))
//	fmt.Println(ui.Hint("Run ") + ui.Code.Sprint("whanau invite code Ngata"))
//
// Color is dropped when NO_COLOR is set or the output is not a terminal.
// Formatters then fall back to plain marks so meaning survives in logs and
// pipes: `code`, 'highlight', (muted) and <secret>.
package ui
