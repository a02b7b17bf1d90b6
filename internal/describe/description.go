package describe

import (
	"context"
	"regexp"
	"strings"

	"github.com/andresmejia3/keyframer/internal/types"
	"github.com/andresmejia3/keyframer/internal/vision"
)

// Each field is tried with the English label first, then the Arabic one.
var (
	imageNameRe = []*regexp.Regexp{
		regexp.MustCompile(`(?s)Image Name:\s*(.*?)\s*Extracted Text:`),
		regexp.MustCompile(`(?s)اسم الصورة:\s*(.*?)\s*النص المستخرج:`),
	}
	extractedTextRe = []*regexp.Regexp{
		regexp.MustCompile(`(?s)Extracted Text:\s*(.*?)\s*Visual Description:`),
		regexp.MustCompile(`(?s)النص المستخرج:\s*(.*?)\s*الوصف المرئي:`),
	}
	visualDescriptionRe = []*regexp.Regexp{
		regexp.MustCompile(`(?s)Visual Description:\s*(.*)`),
		regexp.MustCompile(`(?s)الوصف المرئي:\s*(.*)`),
	}
)

// Describe asks the model for the OCR text and informative visuals of an important frame.
// It returns nil when the model answered with nothing at all.
func Describe(ctx context.Context, model vision.Model, fr Frame) *types.Description {
	return describeWith(ctx, model, fr, describePrompt(fr.Name), "Error processing text", "Error generating description")
}

// DescribeDirect is the fallback attempt with the stricter prompt.
func DescribeDirect(ctx context.Context, model vision.Model, fr Frame) *types.Description {
	if len(fr.JPEG) == 0 {
		return &types.Description{
			ImageName:         fr.Name,
			ExtractedText:     "Failed to process image",
			VisualDescription: "Error occurred during image processing",
			Error:             "Image conversion failed",
		}
	}
	d := describeWith(ctx, model, fr, directPrompt(fr.Name), "Failed to extract text", "Failed to extract visual description")
	if d == nil {
		return &types.Description{
			ImageName:         fr.Name,
			ExtractedText:     "Failed to extract text",
			VisualDescription: "Failed to extract visual description",
			Error:             "empty model response",
		}
	}
	return d
}

func describeWith(ctx context.Context, model vision.Model, fr Frame, prompt, textErr, visualErr string) *types.Description {
	resp, err := model.Generate(ctx, vision.Request{Prompt: prompt, Image: fr.JPEG})
	if err != nil {
		return &types.Description{
			ImageName:         fr.Name,
			ExtractedText:     textErr,
			VisualDescription: visualErr,
			Error:             err.Error(),
		}
	}
	out := strings.TrimSpace(resp)
	if out == "" {
		return nil
	}
	d := ParseDescription(out, fr.Name)
	return &d
}

// ParseDescription extracts the three labelled fields, falling back to defaults for missing ones.
func ParseDescription(out, name string) types.Description {
	return types.Description{
		ImageName:         firstMatch(imageNameRe, out, name),
		ExtractedText:     firstMatch(extractedTextRe, out, "No text found"),
		VisualDescription: firstMatch(visualDescriptionRe, out, "No visual description"),
		RawOutput:         out,
	}
}

func firstMatch(res []*regexp.Regexp, s, fallback string) string {
	for _, re := range res {
		if m := re.FindStringSubmatch(s); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return fallback
}
