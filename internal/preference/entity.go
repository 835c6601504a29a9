package preference

// Preference is the UI language chosen on this device.
type Preference struct {
	LanguageCode string `yaml:"language_code"`
	DisplayLabel string `yaml:"display_label"`
}
