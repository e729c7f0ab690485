package manifest

// domainOrder 领域输出顺序
var domainOrder = []string{
	DomainLocation,
	DomainCommunication,
	DomainIdentity,
	DomainDeviceControl,
	DomainStorage,
	DomainNetwork,
	DomainFinancial,
	DomainHealth,
	DomainUnknown,
}

var domainDescriptions = map[string]string{
	DomainLocation:      "Permissions that access device location data.",
	DomainCommunication: "Permissions related to calls, SMS, and messaging.",
	DomainIdentity:      "Permissions accessing personal identity information.",
	DomainDeviceControl: "Permissions controlling device hardware and features.",
	DomainStorage:       "Permissions accessing files and media storage.",
	DomainNetwork:       "Permissions related to internet and network access.",
	DomainFinancial:     "Permissions related to billing and financial transactions.",
	DomainHealth:        "Permissions accessing health and fitness sensors.",
	DomainUnknown:       "Permissions not in our categorization database.",
}

// CategorizeByDomain 按隐私领域分组，只返回非空领域
func CategorizeByDomain(permissions []string) []DomainGroup {
	grouped := make(map[string][]string)
	for _, p := range permissions {
		category := DomainUnknown
		if info, ok := LookupPermission(p); ok {
			category = info.Category
		}
		grouped[category] = append(grouped[category], p)
	}

	groups := make([]DomainGroup, 0, len(grouped))
	for _, category := range domainOrder {
		perms, ok := grouped[category]
		if !ok {
			continue
		}
		groups = append(groups, DomainGroup{
			Category:    category,
			Description: domainDescriptions[category],
			Permissions: perms,
			Count:       len(perms),
		})
	}
	return groups
}
