package simulation

import "github.com/apk-analysis/apk-risk-analyzer/internal/dex"

// GetBuiltinRules 获取内置行为推演规则
func GetBuiltinRules() []Rule {
	return []Rule{
		{
			ID:          "background-tracking",
			Description: "May track your location continuously, even when the app is closed.",
			Points:      15,
			Condition:   Condition{Permissions: []string{"ACCESS_BACKGROUND_LOCATION"}},
		},
		{
			ID:          "sms-interception",
			Description: "May intercept incoming SMS messages, including one-time verification codes.",
			Points:      15,
			Condition:   Condition{Permissions: []string{"RECEIVE_SMS", "READ_SMS"}},
		},
		{
			ID:          "persistent-startup",
			Description: "Starts automatically after the device boots and may keep running in the background.",
			Points:      5,
			Condition:   Condition{ManifestMarkers: []string{"BOOT_COMPLETED"}},
		},
		{
			ID:          "payload-download",
			Description: "May download and run additional code that was not reviewed at install time.",
			Points:      20,
			Condition: Condition{
				Permissions:   []string{"REQUEST_INSTALL_PACKAGES"},
				DexCategories: []string{dex.CategoryDynamicLoading, dex.CategoryDynamicLoadingStrings},
			},
		},
		{
			ID:          "command-execution",
			Description: "May execute shell commands on the device.",
			Points:      15,
			Condition:   Condition{DexCategories: []string{dex.CategoryShellExec}},
		},
		{
			ID:          "screen-overlay",
			Description: "May draw over other apps to capture taps or display fake login screens.",
			Points:      10,
			Condition:   Condition{Permissions: []string{"SYSTEM_ALERT_WINDOW"}},
		},
		{
			ID:          "accessibility-abuse",
			Description: "May read screen content and perform actions on your behalf through accessibility services.",
			Points:      20,
			Condition:   Condition{Permissions: []string{"BIND_ACCESSIBILITY_SERVICE"}},
		},
		{
			ID:          "device-fingerprinting",
			Description: "May collect hardware identifiers that allow tracking across apps and resets.",
			Points:      10,
			Condition: Condition{
				Permissions:   []string{"READ_PHONE_STATE"},
				DexCategories: []string{dex.CategorySensitiveAPI},
			},
		},
		{
			ID:          "js-bridge-exposure",
			Description: "Web content may call into native app code through a JavaScript bridge.",
			Points:      10,
			Condition:   Condition{DexCategories: []string{dex.CategoryWebViewBridge}},
		},
		{
			ID:          "hidden-endpoints",
			Description: "Communicates with hardcoded server addresses that bypass DNS.",
			Points:      5,
			Condition:   Condition{DexCategories: []string{dex.CategoryHardcodedIP}},
		},
		{
			ID:          "contact-harvest",
			Description: "May upload your contacts or call history.",
			Points:      10,
			Condition:   Condition{Permissions: []string{"READ_CONTACTS", "READ_CALL_LOG"}},
		},
		{
			ID:          "covert-recording",
			Description: "May record audio without a visible indication.",
			Points:      10,
			Condition:   Condition{Permissions: []string{"RECORD_AUDIO"}},
		},
	}
}
