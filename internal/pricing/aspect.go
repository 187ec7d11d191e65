package pricing

// Aspect ratios accepted from clients.
const (
	AspectSquare    = "square"
	AspectLandscape = "landscape"
	AspectPortrait  = "portrait"
)

var imageSizes = map[string]string{
	AspectSquare:    "square_hd",
	AspectLandscape: "landscape_16_9",
	AspectPortrait:  "portrait_16_9",
}

var videoAspects = map[string]string{
	AspectLandscape: "16:9",
	AspectPortrait:  "9:16",
}

// ImageSize maps a client aspect ratio to the provider image_size preset.
// Anything unrecognised renders square.
func ImageSize(aspect string) string {
	if size, ok := imageSizes[aspect]; ok {
		return size
	}
	return imageSizes[AspectSquare]
}

// VideoAspectRatio maps a client aspect ratio to the provider ratio string.
// Video has no square format, so unknown values are rejected.
func VideoAspectRatio(aspect string) (string, bool) {
	ratio, ok := videoAspects[aspect]
	return ratio, ok
}

// NormalizeImageAspect returns aspect when it is known and square otherwise.
func NormalizeImageAspect(aspect string) string {
	if _, ok := imageSizes[aspect]; ok {
		return aspect
	}
	return AspectSquare
}
