package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexify/requestforms/form"
)

// draftFile is the on-disk shape of a draft.
type draftFile struct {
	Values map[string]string   `json:"values" yaml:"values"`
	Lists  map[string][]string `json:"lists" yaml:"lists"`
	Flags  map[string]bool     `json:"flags" yaml:"flags"`
	Agree  bool                `json:"agree" yaml:"agree"`
}

func readDraft(path string) (draftFile, error) {
	var df draftFile
	data, err := os.ReadFile(path)
	if err != nil {
		return df, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &df)
	default:
		err = json.Unmarshal(data, &df)
	}
	if err != nil {
		return df, fmt.Errorf("failed to parse draft %s: %w", path, err)
	}
	return df, nil
}

// fill replays a draft file and the attachment paths into d.
func fill(d *form.Draft, df draftFile, background, supplier []string) error {
	for k, v := range df.Values {
		d.Set(k, v)
	}
	for k, list := range df.Lists {
		for _, v := range list {
			d.Toggle(k, v, true)
		}
	}
	for k, v := range df.Flags {
		d.SetFlag(k, v)
	}
	d.SetAgree(df.Agree)

	for _, slot := range []struct {
		slot  form.Slot
		paths []string
	}{
		{form.SlotBackground, background},
		{form.SlotSupplier, supplier},
	} {
		for _, p := range slot.paths {
			att, err := form.FileAttachment(p)
			if err != nil {
				return fmt.Errorf("attachment %s: %w", p, err)
			}
			if err := d.AddFiles(slot.slot, att); err != nil {
				return err
			}
		}
	}
	return nil
}
