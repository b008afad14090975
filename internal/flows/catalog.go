package flows

import "strings"

// Method is one contraceptive option in the canned catalog.
type Method struct {
	Name    string
	Detail  string
	aliases []string
}

// durationBucket groups methods by how long they protect.
type durationBucket struct {
	Label   string
	Methods []Method
	aliases []string
}

// emergencyBucketLabel routes from the duration question into the
// emergency product path.
const emergencyBucketLabel = "Emergency (within 5 days)"

var methodCatalog = []durationBucket{
	{
		Label:   "Up to 1 year",
		aliases: []string{"up to 1 year", "1 year", "short term"},
		Methods: []Method{
			{
				Name:    "Daily pills",
				aliases: []string{"pills", "daily pill", "the pill"},
				Detail: "Daily pills are small tablets you take every day at the same time. " +
					"They are over 99% effective with perfect use and your fertility returns quickly after you stop.",
			},
			{
				Name:    "Male condoms",
				aliases: []string{"condoms", "male condom"},
				Detail: "Male condoms are worn on the penis during sex. They are the only method that also " +
					"protects against sexually transmitted infections, and they need no prescription.",
			},
			{
				Name:    "Female condoms",
				aliases: []string{"female condom"},
				Detail: "Female condoms are soft pouches inserted in the vagina before sex. They also protect " +
					"against sexually transmitted infections and can be put in up to 8 hours ahead.",
			},
			{
				Name:    "Diaphragm",
				aliases: []string{"diaphragm with gel"},
				Detail: "A diaphragm is a shallow silicone cup inserted before sex, used together with a gel. " +
					"It is reusable and hormone-free.",
			},
		},
	},
	{
		Label:   "1 to 2 years",
		aliases: []string{"1 to 2 years", "2 years", "medium term"},
		Methods: []Method{
			{
				Name:    "Injectables",
				aliases: []string{"injection", "injections", "depo", "sayana press", "depo-provera"},
				Detail: "Injectables like Sayana Press and Depo-Provera are given every 3 months by a health " +
					"worker or, for Sayana Press, self-injected. Private and highly effective, though return " +
					"to fertility can take a few months after stopping.",
			},
		},
	},
	{
		Label:   "3 to 4 years",
		aliases: []string{"3 to 4 years", "4 years", "long term"},
		Methods: []Method{
			{
				Name:    "Implants",
				aliases: []string{"implant", "jadelle", "implanon", "nexplanon"},
				Detail: "Implants are small rods placed under the skin of your upper arm by a trained provider. " +
					"They protect for 3 to 5 years depending on the type, and can be removed any time you " +
					"want to get pregnant.",
			},
		},
	},
	{
		Label:   "5 to 10 years",
		aliases: []string{"5 to 10 years", "10 years", "extended"},
		Methods: []Method{
			{
				Name:    "Copper IUD",
				aliases: []string{"iud", "copper coil"},
				Detail: "The copper IUD is a small hormone-free device placed in the womb by a provider. It " +
					"protects for up to 10 years and fertility returns as soon as it is removed.",
			},
			{
				Name:    "Hormonal IUS",
				aliases: []string{"ius", "mirena"},
				Detail: "The hormonal IUS is a small device placed in the womb that releases a low hormone " +
					"dose. It protects for 5 to 8 years and often makes periods lighter.",
			},
		},
	},
	{
		Label:   "Permanently",
		aliases: []string{"permanent", "forever"},
		Methods: []Method{
			{
				Name:    "Tubal ligation",
				aliases: []string{"tubal", "tie my tubes"},
				Detail: "Tubal ligation is a one-time surgical procedure that permanently blocks the fallopian " +
					"tubes. Choose it only if you are sure you do not want children in the future.",
			},
			{
				Name:    "Vasectomy",
				aliases: []string{"vasectomy"},
				Detail: "Vasectomy is a quick one-time procedure for men that permanently blocks sperm. It is " +
					"simpler and safer than tubal ligation and does not affect sexual function.",
			},
		},
	},
}

// emergencyProducts are the emergency contraception options.
var emergencyProducts = []Method{
	{
		Name:    "Postpill",
		aliases: []string{"post pill"},
		Detail: "Postpill is an emergency contraceptive pill taken as one dose within 5 days of unprotected " +
			"sex, and it works best the sooner you take it. It is not meant for regular use.",
	},
	{
		Name:    "Postinor-2",
		aliases: []string{"postinor", "postinor 2"},
		Detail: "Postinor-2 is an emergency contraceptive taken within 3 days of unprotected sex, as soon as " +
			"possible. It will not work if you are already pregnant and is not meant for regular use.",
	},
}

func matchesAlias(input, name string, aliases []string) bool {
	if input == strings.ToLower(name) {
		return true
	}
	for _, a := range aliases {
		if input == a {
			return true
		}
	}
	return false
}

// findBucket resolves a duration answer to a catalog bucket.
func findBucket(input string) (durationBucket, bool) {
	n := normalize(input)
	for _, b := range methodCatalog {
		if matchesAlias(n, b.Label, b.aliases) {
			return b, true
		}
	}
	return durationBucket{}, false
}

// findMethod resolves a method answer across the whole catalog.
func findMethod(input string) (Method, bool) {
	n := normalize(input)
	for _, b := range methodCatalog {
		for _, m := range b.Methods {
			if matchesAlias(n, m.Name, m.aliases) {
				return m, true
			}
		}
	}
	return Method{}, false
}

// findEmergencyProduct resolves an emergency product answer.
func findEmergencyProduct(input string) (Method, bool) {
	n := normalize(input)
	for _, m := range emergencyProducts {
		if matchesAlias(n, m.Name, m.aliases) {
			return m, true
		}
	}
	return Method{}, false
}

func bucketLabels() []string {
	labels := make([]string, 0, len(methodCatalog)+1)
	for _, b := range methodCatalog {
		labels = append(labels, b.Label)
	}
	labels = append(labels, emergencyBucketLabel)
	return labels
}

func methodNames(b durationBucket) []string {
	names := make([]string, 0, len(b.Methods))
	for _, m := range b.Methods {
		names = append(names, m.Name)
	}
	return names
}

func productNames() []string {
	names := make([]string, 0, len(emergencyProducts))
	for _, m := range emergencyProducts {
		names = append(names, m.Name)
	}
	return names
}

func isEmergencyChoice(input string) bool {
	n := normalize(input)
	return matchesAlias(n, emergencyBucketLabel, []string{"emergency", "within 5 days", "right now"})
}
