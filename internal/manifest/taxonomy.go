package manifest

// 隐私领域
const (
	DomainLocation      = "Location"
	DomainCommunication = "Communication"
	DomainIdentity      = "Identity"
	DomainDeviceControl = "Device Control"
	DomainStorage       = "Storage"
	DomainNetwork       = "Network"
	DomainFinancial     = "Financial"
	DomainHealth        = "Health"
	DomainUnknown       = "Unknown"
)

const (
	unknownDescription = "This permission is not in our database. Review manually."
	knownConfidence    = 1.0
	unknownConfidence  = 0.9
)

// PermissionInfo 权限分类条目
type PermissionInfo struct {
	Risk        string
	Category    string
	Description string
}

const ap = "android.permission."

// permissionDatabase 权限 -> 风险/领域/说明
var permissionDatabase = map[string]PermissionInfo{
	// 位置
	ap + "ACCESS_FINE_LOCATION":       {RiskHigh, DomainLocation, "Access precise GPS location."},
	ap + "ACCESS_COARSE_LOCATION":     {RiskMedium, DomainLocation, "Access approximate network-based location."},
	ap + "ACCESS_BACKGROUND_LOCATION": {RiskHigh, DomainLocation, "Access location while the app is in the background."},
	ap + "ACCESS_MEDIA_LOCATION":      {RiskMedium, DomainLocation, "Read location metadata embedded in photos and videos."},

	// 通讯
	ap + "READ_SMS":               {RiskHigh, DomainCommunication, "Read SMS messages, including one-time passwords."},
	ap + "SEND_SMS":               {RiskHigh, DomainCommunication, "Send SMS messages, which may incur charges."},
	ap + "RECEIVE_SMS":            {RiskHigh, DomainCommunication, "Receive and process incoming SMS messages."},
	ap + "RECEIVE_MMS":            {RiskMedium, DomainCommunication, "Receive and process incoming MMS messages."},
	ap + "RECEIVE_WAP_PUSH":       {RiskMedium, DomainCommunication, "Receive WAP push messages."},
	ap + "READ_CALL_LOG":          {RiskHigh, DomainCommunication, "Read the history of incoming and outgoing calls."},
	ap + "WRITE_CALL_LOG":         {RiskHigh, DomainCommunication, "Modify or delete the call history."},
	ap + "PROCESS_OUTGOING_CALLS": {RiskHigh, DomainCommunication, "See and redirect numbers dialed on outgoing calls."},
	ap + "CALL_PHONE":             {RiskHigh, DomainCommunication, "Place phone calls without going through the dialer."},
	ap + "ANSWER_PHONE_CALLS":     {RiskHigh, DomainCommunication, "Answer incoming phone calls."},
	ap + "READ_PHONE_NUMBERS":     {RiskMedium, DomainCommunication, "Read the device phone numbers."},
	ap + "USE_SIP":                {RiskMedium, DomainCommunication, "Make and receive SIP calls."},

	// 身份
	ap + "READ_CONTACTS":    {RiskHigh, DomainIdentity, "Read the contact list stored on the device."},
	ap + "WRITE_CONTACTS":   {RiskMedium, DomainIdentity, "Modify the contact list stored on the device."},
	ap + "GET_ACCOUNTS":     {RiskMedium, DomainIdentity, "List the accounts registered on the device."},
	ap + "READ_PHONE_STATE": {RiskMedium, DomainIdentity, "Read phone state including device identifiers."},
	ap + "READ_CALENDAR":    {RiskMedium, DomainIdentity, "Read calendar events and details."},
	ap + "WRITE_CALENDAR":   {RiskMedium, DomainIdentity, "Add or modify calendar events."},
	ap + "READ_PROFILE":     {RiskMedium, DomainIdentity, "Read the personal profile of the device owner."},

	// 设备控制
	ap + "CAMERA":                      {RiskHigh, DomainDeviceControl, "Take pictures and record video."},
	ap + "RECORD_AUDIO":                {RiskHigh, DomainDeviceControl, "Record audio with the microphone."},
	ap + "SYSTEM_ALERT_WINDOW":         {RiskHigh, DomainDeviceControl, "Draw windows on top of other apps."},
	ap + "REQUEST_INSTALL_PACKAGES":    {RiskHigh, DomainDeviceControl, "Request installation of additional packages."},
	ap + "BIND_ACCESSIBILITY_SERVICE":  {RiskCritical, DomainDeviceControl, "Observe and control the screen through accessibility."},
	ap + "BIND_DEVICE_ADMIN":           {RiskCritical, DomainDeviceControl, "Act as a device administrator, including wiping data."},
	ap + "BIND_NOTIFICATION_LISTENER_SERVICE": {RiskHigh, DomainDeviceControl, "Read all notifications posted by other apps."},
	ap + "WRITE_SETTINGS":              {RiskMedium, DomainDeviceControl, "Modify system settings."},
	ap + "RECEIVE_BOOT_COMPLETED":      {RiskLow, DomainDeviceControl, "Start automatically when the device boots."},
	ap + "FOREGROUND_SERVICE":          {RiskLow, DomainDeviceControl, "Run foreground services."},
	ap + "WAKE_LOCK":                   {RiskLow, DomainDeviceControl, "Prevent the device from sleeping."},
	ap + "VIBRATE":                     {RiskLow, DomainDeviceControl, "Control the vibrator."},
	ap + "FLASHLIGHT":                  {RiskLow, DomainDeviceControl, "Control the flashlight."},
	ap + "POST_NOTIFICATIONS":          {RiskLow, DomainDeviceControl, "Post notifications."},
	ap + "USE_BIOMETRIC":               {RiskLow, DomainDeviceControl, "Use biometric hardware for authentication."},
	ap + "USE_FINGERPRINT":             {RiskLow, DomainDeviceControl, "Use fingerprint hardware for authentication."},
	ap + "KILL_BACKGROUND_PROCESSES":   {RiskMedium, DomainDeviceControl, "Stop background processes of other apps."},
	ap + "DISABLE_KEYGUARD":            {RiskMedium, DomainDeviceControl, "Disable the screen lock."},
	ap + "PACKAGE_USAGE_STATS":         {RiskMedium, DomainDeviceControl, "Read usage statistics of other apps."},
	ap + "QUERY_ALL_PACKAGES":          {RiskMedium, DomainDeviceControl, "See all apps installed on the device."},

	// 存储
	ap + "READ_EXTERNAL_STORAGE":   {RiskMedium, DomainStorage, "Read files from shared storage."},
	ap + "WRITE_EXTERNAL_STORAGE":  {RiskMedium, DomainStorage, "Modify or delete files in shared storage."},
	ap + "MANAGE_EXTERNAL_STORAGE": {RiskHigh, DomainStorage, "Manage all files on shared storage."},
	ap + "READ_MEDIA_IMAGES":       {RiskMedium, DomainStorage, "Read images from shared storage."},
	ap + "READ_MEDIA_VIDEO":        {RiskMedium, DomainStorage, "Read videos from shared storage."},
	ap + "READ_MEDIA_AUDIO":        {RiskMedium, DomainStorage, "Read audio files from shared storage."},

	// 网络
	ap + "INTERNET":             {RiskLow, DomainNetwork, "Open network sockets and access the internet."},
	ap + "ACCESS_NETWORK_STATE": {RiskLow, DomainNetwork, "View information about network connections."},
	ap + "ACCESS_WIFI_STATE":    {RiskLow, DomainNetwork, "View information about Wi-Fi networks."},
	ap + "CHANGE_WIFI_STATE":    {RiskMedium, DomainNetwork, "Connect to and disconnect from Wi-Fi networks."},
	ap + "CHANGE_NETWORK_STATE": {RiskMedium, DomainNetwork, "Change network connectivity state."},
	ap + "BLUETOOTH":            {RiskLow, DomainNetwork, "Connect to paired Bluetooth devices."},
	ap + "BLUETOOTH_ADMIN":      {RiskMedium, DomainNetwork, "Discover and pair Bluetooth devices."},
	ap + "BLUETOOTH_CONNECT":    {RiskMedium, DomainNetwork, "Connect to paired Bluetooth devices."},
	ap + "BLUETOOTH_SCAN":       {RiskMedium, DomainNetwork, "Scan for nearby Bluetooth devices."},
	ap + "NFC":                  {RiskLow, DomainNetwork, "Communicate with NFC tags and devices."},

	// 金融
	"com.android.vending.BILLING": {RiskLow, DomainFinancial, "Make in-app purchases through Google Play."},
	ap + "BIND_NFC_SERVICE":        {RiskMedium, DomainFinancial, "Act as an NFC host card emulation payment service."},

	// 健康
	ap + "BODY_SENSORS":            {RiskHigh, DomainHealth, "Access data from body sensors such as heart rate."},
	ap + "BODY_SENSORS_BACKGROUND": {RiskHigh, DomainHealth, "Access body sensor data in the background."},
	ap + "ACTIVITY_RECOGNITION":    {RiskMedium, DomainHealth, "Recognize physical activity such as walking."},
}

// LookupPermission 查询权限分类
func LookupPermission(permission string) (PermissionInfo, bool) {
	info, ok := permissionDatabase[permission]
	return info, ok
}

// DescribePermissions 将权限列表与分类库关联
func DescribePermissions(permissions []string) []PermissionRecord {
	records := make([]PermissionRecord, 0, len(permissions))
	for _, p := range permissions {
		rec := PermissionRecord{
			FullName:    p,
			ShortName:   ShortName(p),
			Risk:        RiskUnknown,
			Category:    DomainUnknown,
			Description: unknownDescription,
			Confidence:  unknownConfidence,
		}
		if info, ok := LookupPermission(p); ok {
			rec.Risk = info.Risk
			rec.Category = info.Category
			rec.Description = info.Description
			rec.Confidence = knownConfidence
		}
		records = append(records, rec)
	}
	return records
}

// CountByRisk 按风险等级计数
func CountByRisk(records []PermissionRecord) Breakdown {
	var b Breakdown
	for _, r := range records {
		switch r.Risk {
		case RiskCritical:
			b.Critical++
		case RiskHigh:
			b.High++
		case RiskMedium:
			b.Medium++
		case RiskLow:
			b.Low++
		default:
			b.Unknown++
		}
	}
	return b
}
