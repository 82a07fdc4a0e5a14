package models

// SettingType is the stored value's interpretation in the Config Store.
type SettingType string

const (
	SettingTypeString SettingType = "string"
	SettingTypeInt    SettingType = "int"
	SettingTypeBool   SettingType = "bool"
	SettingTypeJSON   SettingType = "json"
)

// Setting is a typed global key/value row.
type Setting struct {
	Key     string      `json:"key"`
	Value   string      `json:"value"`
	Type    SettingType `json:"value_type"`
	Private bool        `json:"private"`
}
