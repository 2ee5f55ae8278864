package cmd

import (
	"github.com/charmbracelet/huh"

	"github.com/nextlevelbuilder/walink/internal/session"
)

// runWithHelp wraps huh fields in a form with help hints visible at the bottom.
func runWithHelp(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptNumber asks for the phone number to link, validating as the user types.
func promptNumber() (string, error) {
	var value string
	inp := huh.NewInput().
		Title("Phone number").
		Description("International format, country code first").
		Placeholder("234 801 234 5678").
		Value(&value).
		Validate(func(s string) error {
			_, err := session.NormalizeIdentity(s)
			return err
		})

	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	return value, nil
}

// promptConfirm asks a yes/no question.
func promptConfirm(title string, defaultVal bool) (bool, error) {
	value := defaultVal
	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)

	if err := runWithHelp(c); err != nil {
		return false, err
	}
	return value, nil
}
