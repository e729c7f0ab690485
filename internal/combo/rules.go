package combo

const ap = "android.permission."

// GetBuiltinRules 获取内置危险权限组合规则
func GetBuiltinRules() []Rule {
	return []Rule{
		{
			ID:          "surveillance-av",
			Permissions: []string{ap + "CAMERA", ap + "RECORD_AUDIO"},
			Risk:        RiskCritical,
			Title:       "Audio + Video Surveillance",
			Reason:      "App can record both audio and video simultaneously, enabling full surveillance capability.",
		},
		{
			ID:          "otp-theft",
			Permissions: []string{ap + "READ_SMS", ap + "INTERNET"},
			Risk:        RiskCritical,
			Title:       "OTP / SMS Interception",
			Reason:      "App can read SMS messages (including OTPs) and transmit them to external servers.",
		},
		{
			ID:          "location-tracking",
			Permissions: []string{ap + "ACCESS_FINE_LOCATION", ap + "INTERNET"},
			Risk:        RiskHigh,
			Title:       "Real-Time Location Tracking",
			Reason:      "App can track precise GPS location and send it to remote servers in real time.",
		},
		{
			ID:          "overlay-phishing",
			Permissions: []string{ap + "SYSTEM_ALERT_WINDOW", ap + "READ_SMS"},
			Risk:        RiskCritical,
			Title:       "Overlay Phishing + SMS Theft",
			Reason:      "App can draw fake login screens over other apps while intercepting SMS verification codes.",
		},
		{
			ID:          "contact-exfiltration",
			Permissions: []string{ap + "READ_CONTACTS", ap + "INTERNET"},
			Risk:        RiskHigh,
			Title:       "Contact Data Exfiltration",
			Reason:      "App can read entire contact list and upload it to external servers.",
		},
		{
			ID:          "call-interception",
			Permissions: []string{ap + "PROCESS_OUTGOING_CALLS", ap + "RECORD_AUDIO"},
			Risk:        RiskCritical,
			Title:       "Call Monitoring + Recording",
			Reason:      "App can intercept outgoing calls and record audio during calls.",
		},
		{
			ID:          "file-exfiltration",
			Permissions: []string{ap + "READ_EXTERNAL_STORAGE", ap + "INTERNET"},
			Risk:        RiskHigh,
			Title:       "File Data Exfiltration",
			Reason:      "App can read all files on external storage and transmit them over network.",
		},
		{
			ID:          "background-location",
			Permissions: []string{ap + "ACCESS_BACKGROUND_LOCATION", ap + "INTERNET"},
			Risk:        RiskCritical,
			Title:       "Background Location Surveillance",
			Reason:      "App can continuously track location even when not in use and send data externally.",
		},
		{
			ID:          "sms-financial",
			Permissions: []string{ap + "READ_SMS", ap + "SEND_SMS"},
			Risk:        RiskCritical,
			Title:       "Full SMS Control",
			Reason:      "App can both read and send SMS messages. Can be used for premium SMS fraud or message manipulation.",
		},
		{
			ID:          "silent-install",
			Permissions: []string{ap + "REQUEST_INSTALL_PACKAGES", ap + "INTERNET"},
			Risk:        RiskCritical,
			Title:       "Remote APK Installation",
			Reason:      "App can download and install additional APKs from the internet.",
		},
		{
			ID:          "identity-harvest",
			Permissions: []string{ap + "GET_ACCOUNTS", ap + "READ_CONTACTS", ap + "INTERNET"},
			Risk:        RiskCritical,
			Title:       "Identity Harvesting",
			Reason:      "App can access accounts, contacts, and transmit identity information externally.",
		},
		{
			ID:          "camera-upload",
			Permissions: []string{ap + "CAMERA", ap + "INTERNET"},
			Risk:        RiskHigh,
			Title:       "Photo/Video Capture & Upload",
			Reason:      "App can take photos or record video and upload them to external servers.",
		},
	}
}
