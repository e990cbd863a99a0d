package urls

// Documentation URLs for setup and troubleshooting
// Most point to the TianoCore wiki at https://github.com/tianocore/tianocore.github.io/wiki

// GettingStarted covers cloning edk2 and building the BaseTools.
const GettingStarted = "https://github.com/tianocore/tianocore.github.io/wiki/Getting-Started-with-EDK-II"

// NativeGCCSetup lists the host packages (NASM, iasl, uuid-dev, python) a
// GCC build needs.
const NativeGCCSetup = "https://github.com/tianocore/tianocore.github.io/wiki/Using-EDK-II-with-Native-GCC"

// BuildSpecification documents the build command, DSC/FDF processing, and
// the Build/ output layout.
const BuildSpecification = "https://tianocore-docs.github.io/edk2-BuildSpecification/"

// FspOverview describes the FSP components and the FSP_INFO_HEADER that
// the patch plans and image verification rely on.
const FspOverview = "https://www.intel.com/content/www/us/en/intelligent-systems/intel-firmware-support-package/intel-fsp-overview.html"
