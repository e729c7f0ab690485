package packer

// BuiltinRules 内置加固规则
func BuiltinRules() []Rule {
	return []Rule{
		// 国内加固
		{
			Name:       "Qihoo 360 Jiagu",
			Type:       TypeNative,
			NativeLibs: []string{"libjiagu.so", "libjiagu_x86.so", "libjiagu_a64.so", "libjiagu_x64.so"},
			Markers:    []string{"assets/libjiagu", "assets/jiagu"},
			Classes:    []string{"com.stub.StubApp", "com.qihoo.util.QHClassLoader"},
			Priority:   100,
		},
		{
			Name:       "Tencent Legu",
			Type:       TypeNative,
			NativeLibs: []string{"libshell.so", "libshella.so", "libshellx.so", "libtxmsecurity.so"},
			Markers:    []string{"assets/0oooollll", "tencent_stub"},
			Classes:    []string{"com.tencent.StubShell.TxAppEntry"},
			Priority:   100,
		},
		{
			Name:       "Ijiami",
			Type:       TypeNative,
			NativeLibs: []string{"libexec.so", "libexecmain.so"},
			Markers:    []string{"ijiami.ajm", "assets/ijm_lib"},
			Classes:    []string{"com.shell.SuperApplication"},
			Priority:   100,
		},
		{
			Name:       "Bangcle SecNeo",
			Type:       TypeNative,
			NativeLibs: []string{"libDexHelper.so", "libDexHelper-x86.so", "libSecShell.so", "libSecShell-x86.so"},
			Markers:    []string{"assets/secneo", "assets/bangcle"},
			Classes:    []string{"com.secneo.apkwrapper.ApplicationWrapper"},
			Priority:   100,
		},
		{
			Name:       "Nagain",
			Type:       TypeNative,
			NativeLibs: []string{"libnaga.so", "libddog.so", "libedog.so"},
			Markers:    []string{"nagapt"},
			Classes:    []string{"com.nagapt.protect.StubApplication"},
			Priority:   95,
		},
		{
			Name:       "NetEase Yidun",
			Type:       TypeNative,
			NativeLibs: []string{"libnesec.so", "libNetHTProtect.so"},
			Markers:    []string{"assets/nesec"},
			Classes:    []string{"com.netease.nis.wrapper.MyApplication"},
			Priority:   95,
		},
		{
			Name:       "Alibaba Security",
			Type:       TypeNative,
			NativeLibs: []string{"libmobisec.so", "libsgmain.so", "libsgsecuritybody.so"},
			Markers:    []string{"aliprotector"},
			Classes:    []string{"com.alibaba.wireless.security.open.SecurityGuardManager"},
			Priority:   95,
		},
		{
			Name:       "Baidu Protect",
			Type:       TypeNative,
			NativeLibs: []string{"libbaiduprotect.so", "libcocklogic.so"},
			Markers:    []string{"assets/baiduprotect"},
			Classes:    []string{"com.baidu.protect.StubApplication"},
			Priority:   90,
		},
		{
			Name:       "PayEgis",
			Type:       TypeNative,
			NativeLibs: []string{"libegis.so", "libNSaferOnly.so"},
			Markers:    []string{"payegis"},
			Classes:    []string{"com.payegis.protect.StubApp"},
			Priority:   90,
		},
		{
			Name:       "Rising Shield",
			Type:       TypeNative,
			NativeLibs: []string{"librsjia.so", "librsdec.so"},
			Markers:    []string{"rsshield"},
			Classes:    []string{"com.rsshield.RsApplication"},
			Priority:   85,
		},
		{
			Name:       "Kiwisec",
			Type:       TypeNative,
			NativeLibs: []string{"libkwscmm.so", "libkwscr.so"},
			Markers:    []string{"kiwisec"},
			Classes:    []string{"com.kiwisec.android.loader.KWLoader"},
			Priority:   85,
		},
		{
			Name:       "Dingxiang",
			Type:       TypeNative,
			NativeLibs: []string{"libx3g.so", "libdxoptimizer.so"},
			Markers:    []string{"dingxiang"},
			Classes:    []string{"com.dingxiang.mobile.ShieldApp"},
			Priority:   85,
		},
		// 国际加固
		{
			Name:     "DexGuard",
			Type:     TypeDexEncrypt,
			Markers:  []string{"dexguard", "guardsquare"},
			Priority: 80,
		},
		{
			Name:       "DexProtector",
			Type:       TypeVMP,
			NativeLibs: []string{"libdexprotector.so"},
			Markers:    []string{"dexprotector", "liblxz"},
			Priority:   80,
		},
		{
			Name:       "Arxan",
			Type:       TypeNative,
			NativeLibs: []string{"libArxanJNI.so", "libArxan.so"},
			Markers:    []string{"arxan"},
			Priority:   75,
		},
		{
			Name:       "AppSealing",
			Type:       TypeNative,
			NativeLibs: []string{"libAppSealing.so", "libAppSealingCore.so"},
			Markers:    []string{"appsealing"},
			Priority:   75,
		},
		// 通用特征：体积异常加可疑文件
		{
			Name:     "Unknown (encrypted dex payload)",
			Type:     TypeUnknown,
			Markers:  []string{"assets/classes", "assets/dex", "stub", "shell"},
			Size:     SizeRule{DexMaxKB: 100},
			Priority: 10,
		},
		{
			Name:     "Unknown (oversized native code)",
			Type:     TypeUnknown,
			Markers:  []string{"protect", "guard", "shell"},
			Size:     SizeRule{NativeMinMB: 10},
			Priority: 10,
		},
	}
}
