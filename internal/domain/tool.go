package domain

// ToolID names an image transformation a user can request.
type ToolID string

const (
	ToolUpscale            ToolID = "upscale"
	ToolEnhance            ToolID = "enhance"
	ToolFaceRestore        ToolID = "face-restore"
	ToolPortraitEnhance    ToolID = "portrait-enhance"
	ToolMakeup             ToolID = "makeup"
	ToolOldPhotoRestore    ToolID = "old-photo-restore"
	ToolOldPhotoRestorePro ToolID = "old-photo-restore-pro"
	ToolObjectRemoval      ToolID = "object-removal"
	ToolBackgroundRemove   ToolID = "background-remove"
	ToolBackgroundChange   ToolID = "background-change"
	ToolColorize           ToolID = "colorize"
	ToolBlurBackground     ToolID = "blur-background"
	ToolTextToImage        ToolID = "text-to-image"
	ToolFaceSwap           ToolID = "face-swap"
	ToolBlurFace           ToolID = "blur-face"
	ToolHDR                ToolID = "hdr"
	ToolWatermarkAdd       ToolID = "watermark-add"
	ToolConvert            ToolID = "convert"
	ToolCompress           ToolID = "compress"
	ToolAutoLight          ToolID = "auto-light"
)

func (t ToolID) String() string { return string(t) }
