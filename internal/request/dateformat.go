package request

// DefaultDateFormat is used when the caller supplies no date format or an
// unknown one.
const DefaultDateFormat = "dd-MMM-yyyy HH:mm:ss"

// dateFormats maps the caller-selectable display format names to Go time
// layouts.
var dateFormats = map[string]string{
	"dd-MMM-yyyy":            "02-Jan-2006",             // 22-Nov-2024
	"dd-MMM-yy":              "02-Jan-06",               // 22-Nov-24
	"d-MMM-yyyy":             "02-Jan-2006",             // 2-Nov-2024
	"d-MMM-yy":               "02-Jan-06",               // 2-Nov-24
	"dd-MMM-yyyy HH:mm:ss":   "02-Jan-2006 15:04:05",    // 22-Nov-2024 15:30:45
	"dd-MMM-yyyy hh:mm:ss a": "02-Jan-2006 03:04:05 PM", // 22-Nov-2024 03:30:45 PM
	"dd-MMM-yyyy h:mm a":     "02-Jan-2006 3:04 PM",     // 22-Nov-2024 3:30 PM
	"dd-MMM-yyyy EEEE":       "02-Jan-2006 Monday",      // 22-Nov-2024 Friday
	"dd-MMM-yyyy, EEEE":      "02-Jan-2006, Monday",     // 22-Nov-2024, Friday
	"d-MMM-yyyy hh:mm:ss a":  "02-Jan-2006 03:04:05 PM", // 2-Nov-2024 03:30:45 PM
	"dd/MMM/yyyy":            "02/Jan/2006",             // 22/Nov/2024
	"dd-MMM-yyyy hh:mm:ss":   "02-Jan-2006 03:04:05",    // 22-Nov-2024 03:30:45
	"MMM-dd-yyyy":            "Jan-02-2006",             // Nov-22-2024
	"MMM-dd-yy":              "Jan-02-06",               // Nov-22-24
	"MMM d, yyyy":            "Jan 02, 2006",            // Nov 22, 2024
	"MMM d, yyyy h:mm a":     "Jan 02, 2006 3:04 PM",    // Nov 22, 2024 3:30 PM
	"MMMM dd, yyyy":          "January 02, 2006",        // November 22, 2024
	"MMM yyyy":               "Jan 2006",                // Nov 2024
	"yyyy-MMM-dd":            "2006-Jan-02",             // 2024-Nov-22
	"yyyy-MM-dd":             "2006-01-02",              // 2024-11-22
	"MM/dd/yyyy":             "01/02/2006",              // 11/22/2024
	"dd/MM/yyyy":             "02/01/2006",              // 22/11/2024
	"yyyy/MM/dd":             "2006/01/02",              // 2024/11/22
	"dd-MM-yyyy":             "02-01-2006",              // 22-11-2024
	"MM-dd-yyyy":             "01-02-2006",              // 11-22-2024
	"dd.MM.yyyy":             "02.01.2006",              // 22.11.2024
	"yyyy.MM.dd":             "2006.01.02",              // 2024.11.22
	"d MMMM yyyy":            "02 January 2006",         // 22 November 2024
	"dd/MM/yyyy HH:mm":       "02/01/2006 15:04",        // 22/11/2024 15:30
	"MM.dd.yyyy":             "01.02.2006",              // 11.22.2024
	"yyyy-dd-MM":             "2006-02-01",              // 2024-22-11
	"d MMM, yyyy":            "02 Jan, 2006",            // 22 Nov, 2024
}

// DateLayout resolves a display format name to its Go layout, falling back
// to the default format for unknown or empty names.
func DateLayout(name string) string {
	if layout, ok := dateFormats[name]; ok {
		return layout
	}
	return dateFormats[DefaultDateFormat]
}

// KnownDateFormat reports whether name is a selectable display format.
func KnownDateFormat(name string) bool {
	_, ok := dateFormats[name]
	return ok
}
