package dex

import "regexp"

// 严重程度
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// 风险特征类别 ID
const (
	CategoryDynamicLoading        = "dynamic-loading"
	CategoryDynamicLoadingStrings = "dynamic-loading-strings"
	CategoryReflection            = "reflection"
	CategorySensitiveAPI          = "sensitive-api"
	CategoryCrypto                = "crypto"
	CategoryWebViewBridge         = "webview-bridge"
	CategoryShellExec             = "shell-exec"
	CategoryHardcodedIP           = "hardcoded-ip"
)

// Signature 风险特征规则
// Methods 与方法表做子串匹配；StringPattern 对字符串表做正则匹配
type Signature struct {
	ID            string
	Severity      string
	Reason        string
	Points        int
	Methods       []string
	StringPattern *regexp.Regexp
	MaxEvidence   int
	Fallback      *StringFallback // 方法未命中时的降级检查
}

// StringFallback 仅在字符串常量中出现特征时的弱匹配
type StringFallback struct {
	ID       string
	Severity string
	Reason   string
	Points   int
	Strings  []string
	Evidence string
	Marker   string // 记入 SuspiciousStrings 的标记
}

// ipv4Pattern 点分十进制 IPv4
var ipv4Pattern = regexp.MustCompile(`^(?:[0-9]{1,3}\.){3}[0-9]{1,3}$`)

// BuiltinSignatures 内置风险特征库
func BuiltinSignatures() []Signature {
	return []Signature{
		{
			ID:       CategoryDynamicLoading,
			Severity: SeverityHigh,
			Reason:   "Dynamic Code Loading detected",
			Points:   25,
			Methods: []string{
				"dalvik/system/DexClassLoader",
				"dalvik/system/PathClassLoader",
				"loadDex",
			},
			MaxEvidence: 3,
			Fallback: &StringFallback{
				ID:       CategoryDynamicLoadingStrings,
				Severity: SeverityMedium,
				Reason:   "References to ClassLoaders found in strings",
				Points:   10,
				Strings:  []string{"DexClassLoader", "PathClassLoader"},
				Evidence: "DexClassLoader/PathClassLoader found",
				Marker:   "DexClassLoader",
			},
		},
		{
			ID:       CategoryReflection,
			Severity: SeverityMedium,
			Reason:   "Usage of Java Reflection API",
			Points:   15,
			Methods: []string{
				"Ljava/lang/reflect/Method;->invoke",
				"Ljava/lang/Class;->forName",
			},
			MaxEvidence: 3,
		},
		{
			ID:       CategorySensitiveAPI,
			Severity: SeverityHigh,
			Reason:   "Direct usage of sensitive hardware or identity APIs",
			Points:   20,
			Methods: []string{
				"Landroid/telephony/TelephonyManager;->getDeviceId",
				"Landroid/telephony/TelephonyManager;->getImei",
				"Landroid/telephony/SmsManager;->sendTextMessage",
				"Landroid/media/AudioRecord;->startRecording",
				"Landroid/hardware/Camera;->open",
				"Landroid/hardware/camera2/CameraManager;->openCamera",
			},
			MaxEvidence: 5,
		},
		{
			ID:          CategoryCrypto,
			Severity:    SeverityMedium,
			Reason:      "Usage of cryptographic routines",
			Points:      5,
			Methods:     []string{"Ljavax/crypto/Cipher;->getInstance"},
			MaxEvidence: 3,
		},
		{
			ID:          CategoryWebViewBridge,
			Severity:    SeverityHigh,
			Reason:      "Insertion of JS interfaces into WebView (potential arbitrary code execution if unsanitized)",
			Points:      20,
			Methods:     []string{"Landroid/webkit/WebView;->addJavascriptInterface"},
			MaxEvidence: 3,
		},
		{
			ID:       CategoryShellExec,
			Severity: SeverityHigh,
			Reason:   "Execution of shell commands via Runtime/ProcessBuilder",
			Points:   25,
			Methods: []string{
				"Ljava/lang/Runtime;->exec",
				"Ljava/lang/ProcessBuilder;->start",
			},
			MaxEvidence: 3,
		},
		{
			ID:            CategoryHardcodedIP,
			Severity:      SeverityMedium,
			Reason:        "Hardcoded IP addresses found in strings",
			Points:        10,
			StringPattern: ipv4Pattern,
			MaxEvidence:   3,
		},
	}
}
