package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
)

const installSteps = 6

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12"))

	warnStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("11"))

	errStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("9"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	dimStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8"))

	boxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("12")).
		Padding(0, 1)
)

func stepHeader(out io.Writer, step int, title string){
	fmt.Fprintln(out)
	fmt.Fprintln(out, titleStyle.Render("["+strconv.Itoa(step)+"/"+strconv.Itoa(installSteps)+"] "+title))
	logger.Info("step ", step, ": ", title)
}
