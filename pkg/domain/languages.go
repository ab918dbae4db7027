package domain

// Language describes a chat language offered in the guest UI.
type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"nativeName"`
}

// SupportedLanguages mirrors the language picker shown to guests. Rooms
// accept any non-empty code; this table only improves translation prompts.
var SupportedLanguages = []Language{
	{Code: "th", Name: "Thai", NativeName: "ภาษาไทย"},
	{Code: "vi", Name: "Vietnamese", NativeName: "Tiếng Việt"},
	{Code: "ja", Name: "Japanese", NativeName: "日本語"},
	{Code: "ko", Name: "Korean", NativeName: "한국어"},
	{Code: "zh-TW", Name: "Traditional Chinese", NativeName: "繁體中文"},
}

// LanguageName returns the native name for a language code, or the code
// itself when it is not in the supported table.
func LanguageName(code string) string {
	for _, l := range SupportedLanguages {
		if l.Code == code {
			return l.NativeName
		}
	}
	return code
}
