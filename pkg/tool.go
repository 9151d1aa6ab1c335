package pkg

// Contains check source have target
func Contains(slice []string, val string) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// AppendIfNotExists append val when it is not in list yet
func AppendIfNotExists(list []string, val string) []string {
	if Contains(list, val) {
		return list
	}
	return append(list, val)
}

// Remove drop every val from list, list 會被原地改寫
func Remove(list []string, val string) []string {
	out := list[:0]
	for _, v := range list {
		if v != val {
			out = append(out, v)
		}
	}
	return out
}
