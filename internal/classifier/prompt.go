package classifier

import "strings"

// Categories is the fixed taxonomy the classifier chooses from
var Categories = []string{
	"land-sale",
	"property-sale",
	"tender",
	"planning",
	"news",
	"other",
}

const classifySystem = `You screen pages from Danish municipality websites. ` +
	`You decide whether a page announces or lists municipal land or property for sale. Answer in JSON only.`

const extractSystem = `You extract structured details about municipal land and property sales ` +
	`from Danish web pages. Answer in JSON only.`

func buildClassifyPrompt(url, text string) string {
	var sb strings.Builder

	sb.WriteString("Classify this page. Return JSON only.\n\n")
	sb.WriteString("URL: ")
	sb.WriteString(url)
	sb.WriteString("\n\nContent:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nCategories:\n")
	for _, c := range Categories {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}

	sb.WriteString(`
Return a JSON object with this structure:
{"relevant": true, "confidence": 0.8, "category": "land-sale", "reason": "short reason"}

Rules:
- "relevant" is true only when the page offers municipal land, building plots or property for sale, or announces such a sale
- Plots for houses (parcelhusgrunde), commercial plots (erhvervsgrunde) and large plots (storparceller) all count
- General planning, news or service pages are not relevant unless they announce a concrete sale
- "category" must be one of the categories above
- Confidence is 0.0-1.0
- "reason" is one short sentence, in English

Return ONLY the JSON, no other text.`)

	return sb.String()
}

func buildExtractPrompt(url, text string) string {
	var sb strings.Builder

	sb.WriteString("Extract sale details from this page. Return JSON only.\n\n")
	sb.WriteString("URL: ")
	sb.WriteString(url)
	sb.WriteString("\n\nContent:\n")
	sb.WriteString(text)

	sb.WriteString(`

Return a JSON object with this structure:
{
  "is_property_listing": true,
  "confidence": 0.9,
  "title": "title of the plot or property offered",
  "municipality": "municipality name",
  "summary": "two or three sentences: what is for sale, where, price and deadline if stated"
}

Rules:
- "is_property_listing" is true when the page offers at least one concrete plot or property for sale by a municipality
- Keep Danish place names as written on the page
- Use an empty string for unknown text fields
- Confidence is 0.0-1.0

Return ONLY the JSON, no other text.`)

	return sb.String()
}
