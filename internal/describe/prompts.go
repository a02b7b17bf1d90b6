package describe

import "fmt"

const importanceSystemPrompt = `You are an expert in video summarization. Your task is to evaluate the importance of a video frame for inclusion in a video summary.

Evaluate the frame and classify it as either "important" or "not_important" based on the following criteria:

Important frames:
- Contain essential information for the video
- Show important events or scene changes
- Contain important text or visual information
- Represent key moments in the video

Unimportant frames:
- Black or single-color frames
- Regular portrait shots unrelated to video content
- Transitional or blurry frames
- Frames very similar to previous ones

Return a JSON containing:
{
  "importance": "important" or "not_important",
  "reason": "reason for your classification"
}
`

const importanceUserPrompt = "Evaluate the importance of this video frame."

const extractionRules = `You are an expert in multilingual document understanding.

Your task is to extract and analyze text and informative visual elements from the given image.

Rules:
- Analyze the provided image to extract all textual content.
- If text is in Arabic, copy it in Arabic and provide an English translation in quotes immediately after the Arabic text.
- If text is entirely in English, copy it as is.
- If text is primarily Arabic with some English words, copy the Arabic text and place the English words in quotes within the Arabic text.
- Additionally, identify any informative visual elements in the image that convey data or information.
- This specifically includes elements such as charts, diagrams, text tables, histograms, flowcharts, illustrations, or other visual representations of data.
- Do not describe the general image design, background, or purely decorative elements.
`

func describePrompt(name string) string {
	return fmt.Sprintf(`%s- Translate the visual description to Arabic if needed.

Structure your output in this format:

Image Name: %s
Extracted Text: [copied text with translations]
Visual Description: [description in Arabic of any informative visuals]
`, extractionRules, name)
}

// directPrompt is the stricter prompt used when the first description attempt came back empty.
func directPrompt(name string) string {
	return fmt.Sprintf(`%s- Translate the visual description to Arabic and remove English after translation.
- Structure your output as follows, presenting the image information in a clear vertical format:

Image Name: %s
Extracted Text: [Copied text according to language rules, with English translations/quoted English words]
Visual Description: [Detailed description of any informative visual elements present. State 'None' if no such visual elements are found.]
`, extractionRules, name)
}
